package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"
)

// mockLogger discards all output.
type mockLogger struct{}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (l *mockLogger) With(fields map[string]interface{}) ports.Logger { return l }

// buffer builds a kline buffer from closed candle closes plus one forming
// candle at the current price.
func buffer(closes []float64, current float64) []*domain.Kline {
	klines := make([]*domain.Kline, 0, len(closes)+1)
	for _, c := range closes {
		klines = append(klines, &domain.Kline{Open: c, High: c, Low: c, Close: c, IsFinal: true})
	}
	klines = append(klines, &domain.Kline{Open: current, High: current, Low: current, Close: current})
	return klines
}

func TestNewSelectsMode(t *testing.T) {
	tests := []struct {
		mode domain.Mode
		name string
	}{
		{domain.ModeBear, "bear"},
		{domain.ModeBull, "bull"},
		{domain.ModeScalp, "scalp"},
		{domain.ModeRange, "range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(Config{Mode: tt.mode}, &mockLogger{})
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
			assert.Greater(t, d.RequiredDataPoints(), 0)
			assert.NotEmpty(t, d.KlineInterval())
		})
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(Config{Mode: domain.Mode("momentum")}, &mockLogger{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(Config{Mode: domain.ModeBear}, nil)
	require.Error(t, err)
}
