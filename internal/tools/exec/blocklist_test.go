package exec

import "testing"

func TestBlockedCommand(t *testing.T) {
	tests := []struct {
		command string
		blocked bool
	}{
		{"rm -rf /", true},
		{"rm -rf /   ", true},
		{"rm  -rf   ~", true},
		{"rm -rf /home/agent/workspace/tmp", false},
		{":(){ :|:& };:", true},
		{"dd if=/dev/zero of=/dev/sda", true},
		{"mkfs.ext4 /dev/sdb1", true},
		{"chmod -R 777 /", true},
		{"chmod -R 777 ./workspace", false},
		{"ls -la", false},
		{"echo hello", false},
	}
	for _, tt := range tests {
		blocked, _ := blockedCommand(tt.command)
		if blocked != tt.blocked {
			t.Errorf("blockedCommand(%q) = %v, want %v", tt.command, blocked, tt.blocked)
		}
	}
}
