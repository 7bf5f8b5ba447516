// Package engine holds the pure trading core: the prediction
// fingerprint, the notional and price calculator, and the ordered
// decision engine. Nothing in this package touches a store, an
// adapter, or the clock.
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/quantfold/sigbot/internal/domain"
)

// Fingerprint hashes the decision-relevant fields of a prediction into
// a stable identifier. Two predictions with the same fingerprint are
// behaviorally identical: acting on the second one would duplicate the
// first. Canonical form:
//
//	signal|round(confidence%)|abs(expectedMovePct) to 4dp|sorted tags|tsUpdated UTC ms
func Fingerprint(p domain.Prediction) string {
	tags := make([]string, len(p.Tags))
	copy(tags, p.Tags)
	sort.Strings(tags)

	canonical := fmt.Sprintf("%s|%d|%.4f|%s|%s",
		p.Signal,
		int(math.Round(p.ConfidencePct())),
		math.Abs(p.ExpectedMovePct),
		strings.Join(tags, ","),
		p.TsUpdated.UTC().Format("2006-01-02T15:04:05.000")+"Z",
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
