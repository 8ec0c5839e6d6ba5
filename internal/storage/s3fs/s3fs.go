// Package s3fs is a storage backing over an S3 bucket. Directories are key
// prefixes, files are objects. Modification times live in the "mtime" user
// metadata entry because S3 does not allow setting LastModified.
package s3fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/openmined/mirrorbox/internal/storage"
)

const (
	metaModTime = "mtime"
	delimiter   = "/"
)

var (
	_ storage.Directory = (*Dir)(nil)
	_ storage.File      = (*File)(nil)
)

// API is the subset of *s3.Client used by this package.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Dir is a key prefix in a bucket. The root of a bucket has an empty key.
type Dir struct {
	api    API
	bucket string
	key    string
}

// NewDir returns a handle for the prefix in bucket. Leading and trailing
// slashes of prefix are ignored.
func NewDir(api API, bucket, prefix string) *Dir {
	return &Dir{api: api, bucket: bucket, key: strings.Trim(prefix, delimiter)}
}

func (d *Dir) Name() string {
	if d.key == "" {
		return d.bucket
	}
	return path.Base(d.key)
}

func (d *Dir) FullName() string {
	return "s3://" + storage.Join(d.bucket, d.key)
}

// prefix is the listing prefix of the directory's children.
func (d *Dir) prefix() string {
	if d.key == "" {
		return ""
	}
	return d.key + delimiter
}

func (d *Dir) Exists(ctx context.Context) (bool, error) {
	if d.key == "" {
		return true, nil
	}
	out, err := d.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(d.prefix()),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return aws.ToInt32(out.KeyCount) > 0 || len(out.Contents) > 0, nil
}

// Create writes an empty marker object so the prefix exists on its own.
func (d *Dir) Create(ctx context.Context) error {
	if d.key == "" {
		return nil
	}
	_, err := d.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.prefix()),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	return err
}

func (d *Dir) File(ctx context.Context, name string) (storage.File, error) {
	if !storage.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}
	return &File{api: d.api, bucket: d.bucket, key: d.prefix() + name}, nil
}

func (d *Dir) Dir(ctx context.Context, name string) (storage.Directory, error) {
	if !storage.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}
	return &Dir{api: d.api, bucket: d.bucket, key: d.prefix() + name}, nil
}

// pages lists one level below the directory.
func (d *Dir) pages(ctx context.Context) iter.Seq2[*s3.ListObjectsV2Output, error] {
	return func(yield func(*s3.ListObjectsV2Output, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(d.api, &s3.ListObjectsV2Input{
			Bucket:    aws.String(d.bucket),
			Prefix:    aws.String(d.prefix()),
			Delimiter: aws.String(delimiter),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

func (d *Dir) Files(ctx context.Context) iter.Seq2[storage.File, error] {
	return func(yield func(storage.File, error) bool) {
		for page, err := range d.pages(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if key == d.prefix() || strings.HasSuffix(key, delimiter) {
					continue
				}
				if !yield(&File{api: d.api, bucket: d.bucket, key: key}, nil) {
					return
				}
			}
		}
	}
}

func (d *Dir) Dirs(ctx context.Context) iter.Seq2[storage.Directory, error] {
	return func(yield func(storage.Directory, error) bool) {
		for page, err := range d.pages(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, cp := range page.CommonPrefixes {
				key := strings.TrimSuffix(aws.ToString(cp.Prefix), delimiter)
				if key == "" {
					continue
				}
				if !yield(&Dir{api: d.api, bucket: d.bucket, key: key}, nil) {
					return
				}
			}
		}
	}
}

// File is an object in a bucket.
type File struct {
	api    API
	bucket string
	key    string
}

// NewFile returns a handle for the object at key.
func NewFile(api API, bucket, key string) *File {
	return &File{api: api, bucket: bucket, key: strings.TrimPrefix(key, delimiter)}
}

// Key returns the object key.
func (f *File) Key() string      { return f.key }
func (f *File) Name() string     { return path.Base(f.key) }
func (f *File) FullName() string { return "s3://" + storage.Join(f.bucket, f.key) }

func (f *File) Stat(ctx context.Context) (storage.FileInfo, error) {
	out, err := f.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if isNotFound(err) {
		return storage.FileInfo{}, nil
	}
	if err != nil {
		return storage.FileInfo{}, err
	}
	return storage.FileInfo{
		Exists:  true,
		Size:    aws.ToInt64(out.ContentLength),
		ModTime: modTime(out.Metadata, aws.ToTime(out.LastModified)),
	}, nil
}

func (f *File) Create(ctx context.Context) error {
	info, err := f.Stat(ctx)
	if err != nil {
		return err
	}
	if info.Exists {
		return nil
	}
	return f.put(ctx, strings.NewReader(""), 0)
}

func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// OpenWriter spools writes into a temporary file and uploads it on Close.
func (f *File) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	tmp, err := os.CreateTemp("", "mirrorbox-upload-*")
	if err != nil {
		return nil, err
	}
	return &writer{ctx: ctx, file: f, tmp: tmp}, nil
}

func (f *File) SetModTime(ctx context.Context, t time.Time) error {
	_, err := f.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(f.bucket),
		Key:               aws.String(f.key),
		CopySource:        aws.String(copySource(f.bucket, f.key)),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          map[string]string{metaModTime: t.UTC().Format(time.RFC3339Nano)},
	})
	return err
}

func (f *File) put(ctx context.Context, body io.Reader, size int64) error {
	_, err := f.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(f.bucket),
		Key:           aws.String(f.key),
		Body:          body,
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{metaModTime: time.Now().UTC().Format(time.RFC3339Nano)},
	})
	return err
}

type writer struct {
	ctx    context.Context
	file   *File
	tmp    *os.File
	size   int64
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	n, err := w.tmp.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *writer) Close() error {
	if w.closed {
		return os.ErrClosed
	}
	w.closed = true
	defer os.Remove(w.tmp.Name())
	defer w.tmp.Close()

	if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return w.file.put(w.ctx, w.tmp, w.size)
}

func modTime(meta map[string]string, fallback time.Time) time.Time {
	if raw, ok := meta[metaModTime]; ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t
		}
	}
	return fallback
}

func copySource(bucket, key string) string {
	parts := strings.Split(key, delimiter)
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + delimiter + strings.Join(parts, delimiter)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == 404
}
