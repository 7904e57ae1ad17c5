package streamer

import "testing"

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want Signature
	}{
		{"zip", []byte{0x50, 0x4b, 0x03, 0x04, 0x00, 0x00}, SigZIP},
		{"ole", []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1, 0x00}, SigOLE},
		{"html doctype", []byte("<!DOCTYPE html>\n<html>"), SigHTML},
		{"html tag", []byte("  \n\t<HTML lang=\"en\">"), SigHTML},
		{"csv", []byte("id,name\n1,foo\n"), SigNone},
		{"empty", nil, SigNone},
		{"zip prefix too short", []byte{0x50, 0x4b}, SigNone},
		{"angle bracket but not html", []byte("<xml></xml>"), SigNone},
	}

	for _, tt := range tests {
		if got := Sniff(tt.head); got != tt.want {
			t.Errorf("%s: Sniff = %v, want %v", tt.name, got, tt.want)
		}
	}
}
