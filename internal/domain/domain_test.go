package domain

import "testing"

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform(" eBay ")
	if err != nil {
		t.Fatalf("ParsePlatform: %v", err)
	}
	if p != PlatformEbay {
		t.Fatalf("unexpected platform: %s", p)
	}
	if _, err := ParsePlatform("etsy"); err == nil {
		t.Fatal("expected error for unknown platform")
	}
}
