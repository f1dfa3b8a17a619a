package postgres

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	c := cursor("7421", 99)
	tx, id, err := parseCursor(c)
	if err != nil || tx != "7421" || id != 99 {
		t.Fatalf("parseCursor(%q)=%q,%d,%v", c, tx, id, err)
	}
}

func TestParseCursorRejects(t *testing.T) {
	for _, s := range []string{"", "12", "x:1", "1:y", ":1", "-1:2"} {
		if _, _, err := parseCursor(s); err == nil {
			t.Fatalf("parseCursor(%q): expected error", s)
		}
	}
}
