package transcode

import (
	"context"
	"strings"
	"testing"
)

func TestFilterChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "defaults",
			cfg:  Config{},
			want: "highpass=f=120,lowpass=f=3800,volume=6dB",
		},
		{
			name: "custom filters and gain",
			cfg:  Config{Filters: "highpass=f=200", GainDB: 3},
			want: "highpass=f=200,volume=3dB",
		},
		{
			name: "filters disabled",
			cfg:  Config{Filters: "-", GainDB: 6},
			want: "volume=6dB",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := New(tc.cfg)
			if got := tr.filterChain(); got != tc.want {
				t.Errorf("filterChain() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMulawToWAVArgs(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	args := strings.Join(tr.mulawToWAVArgs(), " ")

	for _, want := range []string{
		"-f mulaw -ar 8000 -ac 1 -i pipe:0",
		"-af highpass=f=120,lowpass=f=3800,volume=6dB",
		"-ar 16000 -ac 1 -f wav pipe:1",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q:\n%s", want, args)
		}
	}
}

func TestEmptyInputRejected(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	if _, err := tr.MulawToWAV(context.Background(), nil); err == nil {
		t.Error("MulawToWAV(nil): want error, got nil")
	}
	if _, err := tr.MP3ToMulaw(context.Background(), nil); err == nil {
		t.Error("MP3ToMulaw(nil): want error, got nil")
	}
}
