package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inner struct {
	Interval time.Duration `env:"TEST_INTERVAL"`
}

type sample struct {
	Name    string          `env:"TEST_NAME,required"`
	Token   string          `env:"TEST_TOKEN" secret:"true"`
	Count   int             `env:"TEST_COUNT"`
	Enabled bool            `env:"TEST_ENABLED"`
	Delays  []time.Duration `env:"TEST_DELAYS" envSeparator:","`
	Skipped string          `env:"TEST_SKIPPED"`
	NoTag   string
	Nested  inner
}

func TestMarshalEnv(t *testing.T) {
	s := &sample{
		Name:    "bridge",
		Token:   "secret-value",
		Count:   3,
		Enabled: true,
		Delays:  []time.Duration{30 * time.Second, time.Minute},
		NoTag:   "ignored",
		Nested:  inner{Interval: 20 * time.Second},
	}

	tests := []struct {
		name   string
		redact bool
		want   string
	}{
		{
			name:   "plain",
			redact: false,
			want: "TEST_NAME=bridge\nTEST_TOKEN=secret-value\nTEST_COUNT=3\nTEST_ENABLED=true\n" +
				"TEST_DELAYS=30s,1m0s\nTEST_INTERVAL=20s\n",
		},
		{
			name:   "redacted",
			redact: true,
			want: "TEST_NAME=bridge\nTEST_TOKEN=***\nTEST_COUNT=3\nTEST_ENABLED=true\n" +
				"TEST_DELAYS=30s,1m0s\nTEST_INTERVAL=20s\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalEnv(s, tt.redact)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarshalEnv_RejectsNonPointer(t *testing.T) {
	_, err := MarshalEnv(sample{}, false)
	assert.Error(t, err)
}

func TestMarshalEnv_Empty(t *testing.T) {
	got, err := MarshalEnv(&sample{}, false)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}
