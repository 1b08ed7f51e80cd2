package domain

// Archive packs named entries into one backup file and extracts them back.
// A handle is bound to exactly one file; it must not be used after Close.
type Archive interface {
	Open() error
	AddFile(entry, source string) error
	AddFolder(entry string, dir Directory) error
	ExtractFile(entry, destination string) error
	ExtractFolder(entry, destination string) error
	Close() error
	// Path is the final location of the backup file.
	Path() string
}
