package model

// FolderRecord is a read-only view of one folder inside an archive.
type FolderRecord struct {
	ID        uint64
	RawName   string
	ItemCount int
}

// SanitizedFolder is an accepted folder together with its output location.
type SanitizedFolder struct {
	ID            uint64
	SanitizedPath string
	OutputDir     string
}

// ItemRecord describes one archive item while it is being considered for extraction.
type ItemRecord struct {
	ID           uint64
	MessageClass string
}

// FolderMapEntry is one line of folder_map.tsv.
type FolderMapEntry struct {
	FolderID      uint64
	SanitizedName string
}
