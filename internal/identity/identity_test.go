package identity

import "testing"

func TestNormalizeEmail(t *testing.T) {
	cases := map[string]string{
		"  Alice@Example.com  ": "alice@example.com",
		"<bob@example.com>":     "bob@example.com",
		"CARL@EXAMPLE.COM":      "carl@example.com",
	}
	for in, want := range cases {
		if got := NormalizeEmail(in); got != want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsOwnerEmail(t *testing.T) {
	s := New()
	Reload(s, []string{"Alice@Example.com"}, nil, "")

	if !s.IsOwnerEmail("<alice@example.com>") {
		t.Error("IsOwnerEmail() = false, want true for normalized match")
	}
	if s.IsOwnerEmail("mallory@example.com") {
		t.Error("IsOwnerEmail() = true, want false for unregistered sender")
	}
}

func TestIsOwnerPubkey_HexAndBech32Equivalence(t *testing.T) {
	const hexKey = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	const npub = "npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6"

	s := New()
	Reload(s, nil, []string{npub}, "")

	if !s.IsOwnerPubkey(hexKey) {
		t.Error("IsOwnerPubkey(hex) = false, want true (npub registered, hex query)")
	}
	if !s.IsOwnerPubkey(npub) {
		t.Error("IsOwnerPubkey(npub) = false, want true")
	}
}

func TestIsOwnerPubkey_Unregistered(t *testing.T) {
	s := New()
	Reload(s, nil, []string{"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459"}, "")

	if s.IsOwnerPubkey("deadbeef") {
		t.Error("IsOwnerPubkey() = true, want false for unregistered key")
	}
}

func TestReload_ReplacesAtomically(t *testing.T) {
	s := New()
	Reload(s, []string{"old@example.com"}, nil, "")
	Reload(s, []string{"new@example.com"}, nil, "")

	if s.IsOwnerEmail("old@example.com") {
		t.Error("stale owner still authorized after Reload")
	}
	if !s.IsOwnerEmail("new@example.com") {
		t.Error("new owner not authorized after Reload")
	}
}

func TestSystemAIGmail(t *testing.T) {
	s := New()
	Reload(s, nil, nil, "  System@Example.com ")
	if got := s.SystemAIGmail(); got != "system@example.com" {
		t.Errorf("SystemAIGmail() = %q, want %q", got, "system@example.com")
	}
}
