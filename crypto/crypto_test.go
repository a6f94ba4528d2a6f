package crypto

import (
	"bytes"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("prisma event payload")
	sig := Sign(priv, msg)
	if err := Verify(pub, msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sig := Sign(priv, []byte("original"))
	if err := Verify(pub, []byte("tampered"), sig); err == nil {
		t.Fatal("expected verification failure for tampered data")
	}
}

func TestSignAttachedOpenAttached(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	message := []byte(`{"last_round":19,"hash":"deadbeef"}`)
	blob := SignAttached(priv, message)
	opened, err := OpenAttached(pub, blob)
	if err != nil {
		t.Fatalf("OpenAttached: %v", err)
	}
	if !bytes.Equal(opened, message) {
		t.Fatalf("opened message mismatch: got %q want %q", opened, message)
	}
}

func TestOpenAttachedRejectsCorruptBlob(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	blob := SignAttached(priv, []byte("hello"))
	blob[len(blob)-1] ^= 0xFF
	if _, err := OpenAttached(pub, blob); err == nil {
		t.Fatal("expected OpenAttached to reject corrupted blob")
	}
}

func TestHashEventIsStableAndHex(t *testing.T) {
	h1 := HashEvent([]byte("payload"))
	h2 := HashEvent([]byte("payload"))
	if h1 != h2 {
		t.Fatalf("HashEvent not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("HashEvent expected 64 hex chars, got %d", len(h1))
	}
}

func TestAddressFromPubKeyBitExact(t *testing.T) {
	// The address is the big-endian uint64 of the first 8 hex characters of
	// the key: a key starting 6bfb2092... hex-encodes to "6bfb2092...",
	// whose first 8 ASCII bytes read as 3918807197700602162.
	cases := []struct {
		lead []byte
		want string
	}{
		{[]byte{0x6b, 0xfb, 0x20, 0x92}, "3918807197700602162PR"},
		{[]byte{0xef, 0x86, 0x48, 0x73}, "7306589250910697267PR"},
	}
	for _, c := range cases {
		pub := PublicKey(make([]byte, 32))
		copy(pub, c.lead)
		if addr := AddressFromPubKey(pub); addr != c.want {
			t.Fatalf("AddressFromPubKey(%x...) = %q, want %q", c.lead, addr, c.want)
		}
	}
}

func TestHashTxLength(t *testing.T) {
	h := HashTx([]byte("tx bytes"))
	if len(h) != 32 {
		t.Fatalf("HashTx expected 32 bytes, got %d", len(h))
	}
}
