package ws

import (
	"strings"
	"testing"
)

func TestParseCandidates(t *testing.T) {
	got := ParseCandidates(" ws://a/ws , ,wss://b/ws/{group_id}")
	if len(got) != 2 || got[0] != "ws://a/ws" || got[1] != "wss://b/ws/{group_id}" {
		t.Fatalf("candidates = %q", got)
	}
}

func TestCandidateListBuild(t *testing.T) {
	list := CandidateList{
		"wss://chat.example.com/ws/chat/{group_id}/",
		"ws://10.0.0.2:8000/ws?lang=ru",
		"://broken",
		"ws://fallback.example.com/ws/{group_id}",
	}
	got := list.Build(42, "a b&c")
	want := []string{
		"wss://chat.example.com/ws/chat/42/?token=a+b%26c",
		"ws://10.0.0.2:8000/ws?lang=ru&token=a+b%26c",
		"ws://fallback.example.com/ws/42?token=a+b%26c",
	}
	if len(got) != len(want) {
		t.Fatalf("urls = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("url[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRedactHidesToken(t *testing.T) {
	out := redact("wss://h/ws?token=supersecret")
	if strings.Contains(out, "supersecret") {
		t.Fatalf("token leaked: %s", out)
	}
}
