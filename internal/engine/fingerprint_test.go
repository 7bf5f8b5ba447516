package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/sigbot/internal/domain"
)

func basePrediction() domain.Prediction {
	return domain.Prediction{
		ID:              "pred-1",
		Symbol:          "BTCUSDT",
		Signal:          domain.SignalUp,
		Confidence:      82.4,
		ExpectedMovePct: 1.75,
		Tags:            []string{"momentum", "breakout"},
		TsUpdated:       time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	p := basePrediction()
	assert.Equal(t, Fingerprint(p), Fingerprint(p))
	assert.Len(t, Fingerprint(p), 64)
}

func TestFingerprintTagOrderInvariant(t *testing.T) {
	a := basePrediction()
	b := basePrediction()
	b.Tags = []string{"breakout", "momentum"}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintConfidenceRounding(t *testing.T) {
	a := basePrediction()
	b := basePrediction()
	a.Confidence = 82.4
	b.Confidence = 82.3
	assert.Equal(t, Fingerprint(a), Fingerprint(b), "both round to 82")

	b.Confidence = 82.6
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b), "82.6 rounds to 83")
}

func TestFingerprintConfidenceScaleAgnostic(t *testing.T) {
	a := basePrediction()
	b := basePrediction()
	a.Confidence = 0.82
	b.Confidence = 82.0
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintExpectedMoveSign(t *testing.T) {
	a := basePrediction()
	b := basePrediction()
	b.ExpectedMovePct = -a.ExpectedMovePct
	assert.Equal(t, Fingerprint(a), Fingerprint(b), "magnitude only")

	b.ExpectedMovePct = a.ExpectedMovePct + 0.001
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint(basePrediction())

	flipped := basePrediction()
	flipped.Signal = domain.SignalDown
	assert.NotEqual(t, base, Fingerprint(flipped))

	retagged := basePrediction()
	retagged.Tags = append(retagged.Tags, "news")
	assert.NotEqual(t, base, Fingerprint(retagged))

	shifted := basePrediction()
	shifted.TsUpdated = shifted.TsUpdated.Add(time.Millisecond)
	assert.NotEqual(t, base, Fingerprint(shifted))
}

func TestFingerprintTimestampNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	a := basePrediction()
	b := basePrediction()
	b.TsUpdated = a.TsUpdated.In(loc)
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintIgnoresNonDecisionFields(t *testing.T) {
	a := basePrediction()
	b := basePrediction()
	b.ID = "pred-2"
	b.StopLossPrice = 41000
	b.TakeProfitPrice = 45000
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}
