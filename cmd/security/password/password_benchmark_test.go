package password

import "testing"

const benchPassword = "this is a strong password 123!"

func BenchmarkVerify_Argon2idDefault(b *testing.B) {
	cfg := DefaultConfig()
	h, err := cfg.Hash(benchPassword)
	if err != nil {
		b.Fatalf("Hash error: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ok, err := cfg.Verify(h, benchPassword)
		if err != nil || !ok {
			b.Fatalf("Verify failed: ok=%v err=%v", ok, err)
		}
	}
}

func BenchmarkVerify_BcryptDefault(b *testing.B) {
	cfg := DefaultConfig()
	cfg.Scheme = SchemeBcrypt
	h, err := cfg.Hash(benchPassword)
	if err != nil {
		b.Fatalf("Hash error: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ok, err := cfg.Verify(h, benchPassword)
		if err != nil || !ok {
			b.Fatalf("Verify failed: ok=%v err=%v", ok, err)
		}
	}
}
