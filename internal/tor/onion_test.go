package tor

import (
	"errors"
	"strings"
	"testing"
)

// testOnionHost returns a valid v3 host built from a deterministic key.
func testOnionHost(t *testing.T, seed byte) string {
	t.Helper()

	pubkey := make([]byte, 32)
	for i := range pubkey {
		pubkey[i] = seed + byte(i)
	}
	host, err := OnionV3Host(pubkey)
	if err != nil {
		t.Fatalf("OnionV3Host() error = %v", err)
	}
	return host
}

func TestOnionV3Host(t *testing.T) {
	t.Parallel()

	t.Run("all-zero key", func(t *testing.T) {
		t.Parallel()

		host, err := OnionV3Host(make([]byte, 32))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if host != "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion" {
			t.Errorf("OnionV3Host() = %q", host)
		}
	})

	t.Run("wrong key length", func(t *testing.T) {
		t.Parallel()

		if _, err := OnionV3Host(make([]byte, 31)); !errors.Is(err, ErrInvalidOnionAddress) {
			t.Errorf("expected ErrInvalidOnionAddress, got %v", err)
		}
	})
}

func TestCheckOnionHost(t *testing.T) {
	t.Parallel()

	valid := testOnionHost(t, 0)
	corrupted := valid[:10] + "b" + valid[11:]
	if corrupted == valid {
		t.Fatal("corruption did not change the host")
	}

	tests := []struct {
		name    string
		host    string
		wantErr error
	}{
		{name: "clearnet host", host: "example.com", wantErr: nil},
		{name: "ip address", host: "127.0.0.1", wantErr: nil},
		{name: "valid v3", host: valid, wantErr: nil},
		{name: "valid v3 uppercase", host: strings.ToUpper(valid), wantErr: nil},
		{name: "valid v3 with subdomain", host: "www." + valid, wantErr: nil},
		{name: "valid v3 trailing dot", host: valid + ".", wantErr: nil},
		{name: "bad checksum", host: corrupted, wantErr: ErrInvalidOnionAddress},
		{name: "v2 address", host: "expyuzz4wqqyqhjn.onion", wantErr: ErrOnionV2Unsupported},
		{name: "wrong length", host: "abc.onion", wantErr: ErrInvalidOnionAddress},
		{name: "invalid base32 characters", host: strings.Repeat("1", 56) + ".onion", wantErr: ErrInvalidOnionAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := CheckOnionHost(tt.host)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("CheckOnionHost(%q) = %v, want nil", tt.host, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckOnionHost(%q) = %v, want %v", tt.host, err, tt.wantErr)
			}
		})
	}
}
