package search

import (
	"reflect"
	"testing"
)

func TestSplitParagraphs(t *testing.T) {
	got := SplitParagraphs("\n\nfirst line\nstill first\n  \n\nsecond\n\n\n")
	want := []string{"first line\nstill first", "second"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := SplitParagraphs("   "); len(got) != 0 {
		t.Fatalf("blank input: %q", got)
	}
}

func TestFlattenMarkdown(t *testing.T) {
	in := "Prices:\n| Plan | Price |\n|:----|----:|\n| Basic | 10 |\n|  |  |\nEnd."
	got := SplitParagraphs(FlattenMarkdown(in))
	want := []string{"Prices:", "Plan Price", "Basic 10", "End."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}

	plain := "no tables here\n\njust text"
	if FlattenMarkdown(plain) != plain {
		t.Fatalf("text without pipes must be unchanged")
	}
}
