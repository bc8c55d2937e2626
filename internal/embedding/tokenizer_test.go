package embedding

import (
	"reflect"
	"testing"
)

func TestHashTokenizer_Tokenize(t *testing.T) {
	tok := &HashTokenizer{}
	ids, attn := tok.Tokenize("A cat, sleeping", 10)
	if len(ids) != 10 || len(attn) != 10 {
		t.Fatalf("len(ids)=%d len(attn)=%d", len(ids), len(attn))
	}
	if ids[0] != clipStartToken {
		t.Errorf("expected start token, got %d", ids[0])
	}
	// a, cat, ",", sleeping then end token
	if ids[5] != clipEndToken {
		t.Errorf("expected end token at 5, got %d", ids[5])
	}
	wantMask := []int64{1, 1, 1, 1, 1, 1, 0, 0, 0, 0}
	if !reflect.DeepEqual(attn, wantMask) {
		t.Errorf("mask = %v", attn)
	}
	upper, _ := tok.Tokenize("CAT", 10)
	lower, _ := tok.Tokenize("cat", 10)
	if !reflect.DeepEqual(upper, lower) {
		t.Error("tokenization should be case insensitive")
	}
}

func TestHashTokenizer_Truncates(t *testing.T) {
	ids, attn := (&HashTokenizer{}).Tokenize("one two three four five six", 4)
	if ids[3] != clipEndToken || attn[3] != 1 {
		t.Errorf("truncated sequence must end with the end token: %v", ids)
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a  b!  c  ")
	if !reflect.DeepEqual(words, []string{"a", "b", "!", "c"}) {
		t.Errorf("got %v", words)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
}
