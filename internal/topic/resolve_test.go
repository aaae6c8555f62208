package topic

import "testing"

func TestResolve(t *testing.T) {
	cases := []struct {
		workspace, node, name, want string
	}{
		{"", "robot1", ".status", "robot1status"},
		{"ws", "robot1", "speed", "ws.speed"},
		{"ws", "robot1", "ws.speed", "ws.speed"},
		{"", "robot1", "speed", "speed"},
		{"ws", "robot1", "srv://abc", "srv://abc"},
		{"ws", "robot1", ".srv://abc", "robot1srv://abc"},
	}
	for _, c := range cases {
		got := Resolve(c.workspace, c.node, c.name)
		if got != c.want {
			t.Errorf("Resolve(%q,%q,%q) = %q, want %q", c.workspace, c.node, c.name, got, c.want)
		}
	}
}

func TestIsReplyChannel(t *testing.T) {
	if !IsReplyChannel("srv://abc") {
		t.Error("expected srv:// prefix to be a reply channel")
	}
	if IsReplyChannel("normal.topic") {
		t.Error("did not expect normal topic to be a reply channel")
	}
}
