package filter

import (
	"testing"
)

// BenchmarkSelector_ShouldProcess_Default benchmarks the built-in exclusion only
func BenchmarkSelector_ShouldProcess_Default(b *testing.B) {
	s, err := New(Options{})
	if err != nil {
		b.Fatal(err)
	}

	name := `Top of Personal Folders\Inbox\Projects\2020`

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.ShouldProcess(name)
	}
}

// BenchmarkSelector_ShouldProcess_WithPatterns benchmarks include and exclude patterns together
func BenchmarkSelector_ShouldProcess_WithPatterns(b *testing.B) {
	s, err := New(Options{
		IncludeFolders: []string{`(?i)inbox`, `(?i)sent`},
		ExcludeFolders: []string{`(?i)junk`, `(?i)spam`},
	})
	if err != nil {
		b.Fatal(err)
	}

	name := `Top of Personal Folders\Inbox\Projects\2020`

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.ShouldProcess(name)
	}
}
