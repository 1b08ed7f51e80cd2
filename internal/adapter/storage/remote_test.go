package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	. "github.com/smartystreets/goconvey/convey"
	"google.golang.org/api/option"
)

type fakeS3 struct {
	pages   map[string]*s3.ListObjectsV2Output
	prefix  []string
	deleted []string
	fail    error
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.prefix = append(f.prefix, aws.ToString(in.Prefix))
	return f.pages[aws.ToString(in.ContinuationToken)], nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakeUploader struct {
	key  string
	body string
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.key, f.body = aws.ToString(in.Key), string(data)
	return &s3manager.UploadOutput{}, nil
}

func object(key string, modified time.Time) types.Object {
	return types.Object{Key: aws.String(key), LastModified: aws.Time(modified)}
}

func TestS3Storage(t *testing.T) {
	Convey("Given a bucket with two pages of objects", t, func() {
		ctx := context.Background()
		now := time.Now()
		client := &fakeS3{pages: map[string]*s3.ListObjectsV2Output{
			"": {
				Contents: []types.Object{
					object("backups/2024-01-01T000000+0000_app.tar.gz", now.Add(-72*time.Hour)),
					object("backups/readme.txt", now.Add(-72*time.Hour)),
				},
				IsTruncated:           aws.Bool(true),
				NextContinuationToken: aws.String("next"),
			},
			"next": {
				Contents: []types.Object{
					object("backups/2024-01-04T000000+0000_app.zip", now.Add(-time.Hour)),
					object("backups/nested/2024-01-01T000000+0000_app.zip", now.Add(-72*time.Hour)),
				},
			},
		}}
		uploader := &fakeUploader{}
		storage := newS3(client, uploader, "bucket", "/backups/", isArchive)

		Convey("List walks every page and keeps backups under the prefix", func() {
			files, err := storage.List(ctx)
			So(err, ShouldBeNil)
			So(files, ShouldResemble, []string{
				"2024-01-01T000000+0000_app.tar.gz",
				"2024-01-04T000000+0000_app.zip",
			})
			So(client.prefix, ShouldResemble, []string{"backups/", "backups/"})
		})

		Convey("GetOldFiles compares the modification time", func() {
			files, err := storage.GetOldFiles(ctx, now.Add(-24*time.Hour))
			So(err, ShouldBeNil)
			So(files, ShouldResemble, []string{"2024-01-01T000000+0000_app.tar.gz"})
		})

		Convey("Delete and Upload use the prefixed key", func() {
			So(storage.Delete(ctx, "2024-01-01T000000+0000_app.tar.gz"), ShouldBeNil)
			So(client.deleted, ShouldResemble, []string{"backups/2024-01-01T000000+0000_app.tar.gz"})

			local := filepath.Join(t.TempDir(), "2024-01-05T000000+0000_app.zip")
			So(os.WriteFile(local, []byte("zip bytes"), 0644), ShouldBeNil)
			So(storage.Upload(ctx, local, filepath.Base(local)), ShouldBeNil)
			So(uploader.key, ShouldEqual, "backups/2024-01-05T000000+0000_app.zip")
			So(uploader.body, ShouldEqual, "zip bytes")
		})

		Convey("Client failures are wrapped", func() {
			client.fail = errors.New("access denied")

			_, err := storage.List(ctx)
			So(err.Error(), ShouldContainSubstring, "failed to list S3 objects")
			err = storage.Delete(ctx, "x.zip")
			So(err.Error(), ShouldContainSubstring, "failed to delete from S3")
		})
	})
}

func TestGDriveStorage(t *testing.T) {
	Convey("Given a drive folder served over HTTP", t, func() {
		var (
			mu      sync.Mutex
			queries []string
			deleted []string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			switch {
			case r.Method == http.MethodDelete:
				deleted = append(deleted, strings.TrimPrefix(r.URL.Path, "/files/"))
				w.WriteHeader(http.StatusNoContent)
			case r.URL.Query().Get("pageToken") == "":
				queries = append(queries, r.URL.Query().Get("q"))
				io.WriteString(w, `{"nextPageToken":"p2","files":[{"id":"1","name":"2024-01-01T000000+0000_app.tar"},{"id":"2","name":"notes.txt"}]}`)
			default:
				io.WriteString(w, `{"files":[{"id":"3","name":"2024-01-02T000000+0000_app.zip"}]}`)
			}
		}))
		defer server.Close()

		ctx := context.Background()
		storage, err := NewGDrive(ctx, GDriveConfig{FolderID: "fold'er"}, isArchive,
			option.WithEndpoint(server.URL+"/"),
			option.WithoutAuthentication(),
		)
		So(err, ShouldBeNil)

		Convey("List follows page tokens and filters names", func() {
			files, err := storage.List(ctx)
			So(err, ShouldBeNil)
			So(files, ShouldResemble, []string{
				"2024-01-01T000000+0000_app.tar",
				"2024-01-02T000000+0000_app.zip",
			})
			So(queries[0], ShouldEqual, `'fold\'er' in parents and trashed = false`)
		})

		Convey("GetOldFiles asks for files created before the cutoff", func() {
			cutoff := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
			_, err := storage.GetOldFiles(ctx, cutoff)
			So(err, ShouldBeNil)
			So(queries[0], ShouldEndWith, "and createdTime < '2024-01-03T00:00:00Z'")
		})

		Convey("Delete removes every matching file", func() {
			So(storage.Delete(ctx, "2024-01-01T000000+0000_app.tar"), ShouldBeNil)
			So(queries[0], ShouldContainSubstring, `name = '2024-01-01T000000+0000_app.tar'`)
			So(deleted, ShouldResemble, []string{"1", "3"})
		})
	})
}

func TestTelegramStorage(t *testing.T) {
	Convey("Given a bot API served over HTTP", t, func() {
		var (
			mu      sync.Mutex
			methods []string
			texts   []string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			methods = append(methods, method)
			if method == "getMe" {
				io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"archivist","username":"archivist_bot"}}`)
				return
			}
			_ = r.ParseMultipartForm(1 << 20)
			texts = append(texts, r.FormValue("text")+r.FormValue("caption"))
			io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
		}))
		defer server.Close()

		ctx := context.Background()
		local := filepath.Join(t.TempDir(), "2024-01-01T000000+0000_app.zip")
		So(os.WriteFile(local, make([]byte, 2048), 0644), ShouldBeNil)

		Convey("A notify-only target sends a message with the size", func() {
			storage, err := NewTelegram(TelegramConfig{
				BotToken: "token", ChatID: 42, NotifyOnly: true,
				Endpoint: server.URL + "/bot%s/%s",
			})
			So(err, ShouldBeNil)

			So(storage.Upload(ctx, local, filepath.Base(local)), ShouldBeNil)
			So(methods, ShouldResemble, []string{"getMe", "sendMessage"})
			So(texts[0], ShouldContainSubstring, "2024-01-01T000000+0000_app.zip")
			So(texts[0], ShouldContainSubstring, "2.0 kB")
		})

		Convey("A file target sends the document", func() {
			storage, err := NewTelegram(TelegramConfig{
				BotToken: "token", ChatID: 42, SendFile: true,
				Endpoint: server.URL + "/bot%s/%s",
			})
			So(err, ShouldBeNil)

			So(storage.Upload(ctx, local, filepath.Base(local)), ShouldBeNil)
			So(methods[len(methods)-1], ShouldEqual, "sendDocument")
			So(texts[0], ShouldContainSubstring, "📦 Backup")
		})

		Convey("Retention has nothing to expire", func() {
			storage, err := NewTelegram(TelegramConfig{BotToken: "token", Endpoint: server.URL + "/bot%s/%s"})
			So(err, ShouldBeNil)

			files, err := storage.GetOldFiles(ctx, time.Now())
			So(err, ShouldBeNil)
			So(files, ShouldBeEmpty)
		})
	})
}
