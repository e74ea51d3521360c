package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Inbox", want: "Inbox"},
		{name: "backslash separator", in: `Top of Personal Folders\Inbox`, want: "Top of Personal Folders/Inbox"},
		{name: "reserved characters", in: "My:Inbox*2020", want: "My_Inbox_2020"},
		{name: "each invalid rune replaced", in: `a<>b`, want: "a__b"},
		{name: "control characters", in: "in\x00box\x1f\x7f", want: "in_box__"},
		{name: "dot segments", in: `inbox\..\.`, want: "inbox/__/_"},
		{name: "dots inside names kept", in: "inbox.con", want: "inbox.con"},
		{name: "empty", in: "", want: Placeholder},
		{name: "all invalid", in: "???", want: "___"},
		{name: "keeps case and spaces", in: "Sent Items", want: "Sent Items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestFolderName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Inbox", want: "inbox"},
		{in: "Sent Items", want: "sent_items"},
		{in: `Inbox\Re:Important`, want: "inbox/re_important"},
		{in: "My:Inbox*2020", want: "my_inbox_2020"},
		{in: "Tab\tand space", want: "tab_and_space"},
		{in: "", want: Placeholder},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FolderName(tt.in))
		})
	}
}

func TestSegment(t *testing.T) {
	assert.Equal(t, "top_of_personal_folders", Segment("Top of Personal Folders"))
	assert.Equal(t, "a_b", Segment(`a\b`))
	assert.Equal(t, "__", Segment(".."))
	assert.Equal(t, "_", Segment("/"))
	assert.Equal(t, Placeholder, Segment(""))
	assert.NotContains(t, Segment(`x\y/z`), "/")
}

func TestIdempotent(t *testing.T) {
	inputs := []string{
		"", ".", "..", "Inbox", `Inbox\Archive`, "My:Inbox*2020", "Deleted Items",
		`\\server\share`, "a\x00b", "Ünïcödé Földer", `..\..\etc\passwd`, "  ",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "Normalize(%q)", in)

		folder := FolderName(in)
		assert.Equal(t, folder, FolderName(folder), "FolderName(%q)", in)

		seg := Segment(in)
		assert.Equal(t, seg, Segment(seg), "Segment(%q)", in)
	}
}

func TestNoStraySeparators(t *testing.T) {
	inputs := []string{"My:Inbox*2020", "a|b", "x\"y", "no separators here", "tab\there"}
	for _, in := range inputs {
		assert.NotContains(t, Normalize(in), "/", "input %q", in)
	}

	// Every slash in the output corresponds to a slash or backslash in the input.
	in := `one\two/three\four`
	out := Normalize(in)
	assert.Equal(t, strings.Count(in, `\`)+strings.Count(in, "/"), strings.Count(out, "/"))
}

func TestNeverEmpty(t *testing.T) {
	for _, in := range []string{"", "\x00", "*", "::::"} {
		assert.NotEmpty(t, Normalize(in))
		assert.NotEmpty(t, FolderName(in))
		assert.NotEmpty(t, Segment(in))
	}
}

func BenchmarkFolderName(b *testing.B) {
	name := `Top of Personal Folders\Inbox\Re: Important *2020*`
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		FolderName(name)
	}
}
