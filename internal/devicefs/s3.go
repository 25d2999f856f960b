package devicefs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

//go:generate mockgen -destination=mock_s3.go -package=devicefs tbloader/internal/devicefs S3API

// S3API is the subset of the S3 client the S3 backend uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const defaultS3Timeout = 30 * time.Second

// S3 stores a tree of files as objects under a key prefix. Directories are
// implied by key prefixes; MkdirAll writes an empty "dir/" marker so empty
// directories survive.
type S3 struct {
	ctx     context.Context
	client  S3API
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3 returns an FS over bucket/prefix. ctx bounds every request the
// backend makes.
func NewS3(ctx context.Context, client S3API, bucket, prefix string) *S3 {
	return &S3{
		ctx:     ctx,
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		timeout: defaultS3Timeout,
	}
}

func (s *S3) Root() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

func (s *S3) key(rel string) string {
	return Join(s.prefix, rel)
}

func (s *S3) dirPrefix(rel string) string {
	if k := s.key(rel); k != "" {
		return k + "/"
	}
	return ""
}

func (s *S3) call() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.timeout)
}

func mapS3Error(err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return err
}

func (s *S3) headFile(rel string) (int64, bool, error) {
	if rel == "" {
		return 0, false, nil
	}
	ctx, cancel := s.call()
	defer cancel()
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rel))})
	if err != nil {
		if mapped := mapS3Error(err); errors.Is(mapped, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

func (s *S3) hasChildren(rel string) (bool, error) {
	ctx, cancel := s.call()
	defer cancel()
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.dirPrefix(rel)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (s *S3) Exists(p string) bool {
	rel, err := Clean(p)
	if err != nil {
		return false
	}
	if _, ok, err := s.headFile(rel); err == nil && ok {
		return true
	}
	return s.IsDir(rel)
}

func (s *S3) IsDir(p string) bool {
	rel, err := Clean(p)
	if err != nil {
		return false
	}
	if rel == "" {
		return true
	}
	ok, err := s.hasChildren(rel)
	return err == nil && ok
}

func (s *S3) List(p string) ([]Entry, error) {
	rel, err := Clean(p)
	if err != nil {
		return nil, failure("list", p, err)
	}
	prefix := s.dirPrefix(rel)
	var entries []Entry
	var token *string
	for {
		ctx, cancel := s.call()
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		cancel()
		if err != nil {
			return nil, failure("list", rel, err)
		}
		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				entries = append(entries, Entry{Path: Join(rel, name), Rel: name, Name: name, IsDir: true})
			}
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			entries = append(entries, Entry{Path: Join(rel, name), Rel: name, Name: name, Size: aws.ToInt64(obj.Size)})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	if len(entries) == 0 && rel != "" && !s.IsDir(rel) {
		return nil, failure("list", rel, fs.ErrNotExist)
	}
	sortEntries(entries)
	return entries, nil
}

func (s *S3) Open(p string) (io.ReadCloser, error) {
	rel, err := Clean(p)
	if err != nil {
		return nil, failure("open", p, err)
	}
	ctx, cancel := s.call()
	defer cancel()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rel))})
	if err != nil {
		return nil, failure("open", rel, mapS3Error(err))
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, failure("open", rel, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *S3) Size(p string) (int64, error) {
	rel, err := Clean(p)
	if err != nil {
		return 0, failure("stat", p, err)
	}
	size, ok, err := s.headFile(rel)
	if err != nil {
		return 0, failure("stat", rel, err)
	}
	if ok || s.IsDir(rel) {
		return size, nil
	}
	return 0, failure("stat", rel, fs.ErrNotExist)
}

func (s *S3) put(rel string, data []byte) error {
	ctx, cancel := s.call()
	defer cancel()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(rel)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return err
}

func (s *S3) CreateFile(p string, r io.Reader, overwrite bool) (int64, error) {
	rel, err := Clean(p)
	if err != nil {
		return 0, failure("create", p, err)
	}
	if !overwrite {
		if _, ok, err := s.headFile(rel); err != nil {
			return 0, failure("create", rel, err)
		} else if ok {
			return 0, failure("create", rel, fs.ErrExist)
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, failure("create", rel, err)
	}
	if err := s.put(rel, data); err != nil {
		return 0, failure("create", rel, err)
	}
	return int64(len(data)), nil
}

// Append rewrites the object with r appended; S3 objects are immutable.
func (s *S3) Append(p string, r io.Reader) (int64, error) {
	rel, err := Clean(p)
	if err != nil {
		return 0, failure("append", p, err)
	}
	var existing []byte
	if _, ok, err := s.headFile(rel); err != nil {
		return 0, failure("append", rel, err)
	} else if ok {
		if existing, err = ReadAll(s, rel); err != nil {
			return 0, err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, failure("append", rel, err)
	}
	if err := s.put(rel, append(existing, data...)); err != nil {
		return 0, failure("append", rel, err)
	}
	return int64(len(data)), nil
}

func (s *S3) keysUnder(rel string) ([]string, error) {
	var keys []string
	var token *string
	for {
		ctx, cancel := s.call()
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.dirPrefix(rel)),
			ContinuationToken: token,
		})
		cancel()
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

func (s *S3) deleteKey(key string) error {
	ctx, cancel := s.call()
	defer cancel()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	return err
}

func (s *S3) Delete(p string, recursive bool) (int, error) {
	rel, err := Clean(p)
	if err != nil {
		return 0, failure("delete", p, err)
	}
	if _, ok, err := s.headFile(rel); err != nil {
		return 0, failure("delete", rel, err)
	} else if ok {
		if err := s.deleteKey(s.key(rel)); err != nil {
			return 0, failure("delete", rel, err)
		}
		return 1, nil
	}
	keys, err := s.keysUnder(rel)
	if err != nil {
		return 0, failure("delete", rel, err)
	}
	if len(keys) == 0 {
		return 0, failure("delete", rel, fs.ErrNotExist)
	}
	marker := s.dirPrefix(rel)
	files := 0
	for _, k := range keys {
		if k != marker {
			files++
		}
	}
	if files > 0 && !recursive {
		return 0, failure("delete", rel, fmt.Errorf("directory not empty: %w", fs.ErrInvalid))
	}
	deleted := 0
	for _, k := range keys {
		if err := s.deleteKey(k); err != nil {
			return deleted, failure("delete", rel, err)
		}
		if !strings.HasSuffix(k, "/") {
			deleted++
		}
	}
	return deleted, nil
}

func (s *S3) MkdirAll(p string) error {
	rel, err := Clean(p)
	if err != nil {
		return failure("mkdir", p, err)
	}
	if rel == "" {
		return nil
	}
	ctx, cancel := s.call()
	defer cancel()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.dirPrefix(rel)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	return failure("mkdir", rel, err)
}

func (s *S3) Rename(from, to string) error {
	src, err := Clean(from)
	if err != nil {
		return failure("rename", from, err)
	}
	dst, err := Clean(to)
	if err != nil {
		return failure("rename", to, err)
	}
	moves := map[string]string{}
	if _, ok, err := s.headFile(src); err != nil {
		return failure("rename", src, err)
	} else if ok {
		moves[s.key(src)] = s.key(dst)
	} else {
		keys, err := s.keysUnder(src)
		if err != nil {
			return failure("rename", src, err)
		}
		for _, k := range keys {
			moves[k] = s.dirPrefix(dst) + strings.TrimPrefix(k, s.dirPrefix(src))
		}
	}
	if len(moves) == 0 {
		return failure("rename", src, fs.ErrNotExist)
	}
	for oldKey, newKey := range moves {
		ctx, cancel := s.call()
		_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			CopySource: aws.String(s.bucket + "/" + oldKey),
			Key:        aws.String(newKey),
		})
		cancel()
		if err != nil {
			return failure("rename", src, err)
		}
		if err := s.deleteKey(oldKey); err != nil {
			return failure("rename", src, err)
		}
	}
	return nil
}
