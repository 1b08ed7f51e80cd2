package compressor

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/archivist/internal/domain"
)

func TestGzipCompressor(t *testing.T) {
	Convey("Given a GzipCompressor", t, func() {
		compressor := NewGzip()
		tempDir := t.TempDir()

		So(compressor.Extension(), ShouldEqual, ".gz")

		Convey("When compressing a valid file", func() {
			inputContent := []byte("This is a test content for compression")
			inputFile := filepath.Join(tempDir, "input.txt")
			So(os.WriteFile(inputFile, inputContent, 0644), ShouldBeNil)
			outputFile := filepath.Join(tempDir, "output.gz")

			err := compressor.Compress(inputFile, outputFile)

			Convey("It should produce a readable gzip stream", func() {
				So(err, ShouldBeNil)

				gzipFile, err := os.Open(outputFile)
				So(err, ShouldBeNil)
				defer gzipFile.Close()

				gzipReader, err := gzip.NewReader(gzipFile)
				So(err, ShouldBeNil)
				defer gzipReader.Close()

				var decompressed bytes.Buffer
				_, err = decompressed.ReadFrom(gzipReader)
				So(err, ShouldBeNil)
				So(decompressed.Bytes(), ShouldResemble, inputContent)
			})
		})

		Convey("When the source file is not a valid gzip file", func() {
			invalidFile := filepath.Join(tempDir, "invalid.gz")
			So(os.WriteFile(invalidFile, []byte("not a gzip file"), 0644), ShouldBeNil)

			err := compressor.Decompress(invalidFile, filepath.Join(tempDir, "out.txt"))

			Convey("It should return an error", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "failed to create gzip reader")
			})
		})
	})
}

func TestCodecs(t *testing.T) {
	codecs := map[string]domain.Codec{
		"gzip":  NewGzip(),
		"bzip2": NewBzip2(),
	}

	for name, codec := range codecs {
		Convey("Given the "+name+" codec", t, func() {
			tempDir := t.TempDir()
			content := []byte(strings.Repeat("archivist round trip\n", 512))
			source := filepath.Join(tempDir, "source.tar")
			So(os.WriteFile(source, content, 0644), ShouldBeNil)
			packed := source + codec.Extension()

			Convey("Compress then Decompress restores the original bytes", func() {
				So(codec.Compress(source, packed), ShouldBeNil)

				info, err := os.Stat(packed)
				So(err, ShouldBeNil)
				So(info.Size(), ShouldBeLessThan, len(content))

				restored := filepath.Join(tempDir, "restored.tar")
				So(codec.Decompress(packed, restored), ShouldBeNil)

				got, err := os.ReadFile(restored)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, content)
			})

			Convey("NewReader streams the decoded bytes", func() {
				So(codec.Compress(source, packed), ShouldBeNil)

				f, err := os.Open(packed)
				So(err, ShouldBeNil)
				defer f.Close()

				r, err := codec.NewReader(f)
				So(err, ShouldBeNil)
				defer r.Close()

				got, err := io.ReadAll(r)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, content)
			})

			Convey("When the source file does not exist", func() {
				err := codec.Compress(filepath.Join(tempDir, "missing"), packed)

				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "failed to open source file")
			})

			Convey("When the destination path is invalid", func() {
				err := codec.Compress(source, "/invalid/path/output"+codec.Extension())

				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "failed to create dest file")
			})
		})
	}
}
