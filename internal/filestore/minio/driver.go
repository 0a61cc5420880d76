// Package minio provides an S3-compatible implementation of filestore.Client.
//
// Each storage system is a bucket named after the lowercased system id.
// Directories are key prefixes; mkdir writes an empty "dir/" marker object
// so empty directories survive. Permission grants are recorded as object
// tags named "pem.<username>".
//
// Usage:
//
//	store, err := minio.New(ctx, filestore.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	})
//	if err != nil { ... }
//	rc, err := store.Download(ctx, "data-sd2e-community", "/uploads/file.txt")
package minio

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"

	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/filestore"
	"github.com/koustreak/bacanora/internal/storage"
)

// pemTagPrefix prefixes object tags that record permission grants.
const pemTagPrefix = "pem."

// Driver is a MinIO implementation of filestore.Client.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
}

var _ filestore.Client = (*Driver)(nil)

// New connects to an S3-compatible server using the provided Config.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg filestore.Config) (*Driver, error) {
	if cfg.Endpoint == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "minio: endpoint is required")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{client: client}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// Ping verifies the server is reachable by listing buckets.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.client.ListBuckets(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// --- filestore.Client implementation ---

func (d *Driver) Upload(ctx context.Context, systemID, dir, name string, r io.Reader, size int64) error {
	if name == "" || strings.Contains(name, "/") {
		return errs.Newf(errs.ErrKindInvalidInput, "invalid file name %q", name)
	}
	if size <= 0 {
		size = -1
	}
	key := objectKey(path.Join(dir, name))
	_, err := d.client.PutObject(ctx, bucketName(systemID), key, r, size, miniogo.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return mapError(err, "failed to upload "+key)
	}
	return nil
}

// Download opens a streaming handle to the object at p.
// The caller MUST Close it.
func (d *Driver) Download(ctx context.Context, systemID, p string) (io.ReadCloser, error) {
	bucket, key := bucketName(systemID), objectKey(p)
	if key == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "cannot download a bucket root")
	}
	obj, err := d.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}
	// GetObject is lazy; Stat surfaces a missing key now rather than on Read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isDir, _ := d.isDir(ctx, bucket, key); isDir {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "%s is a directory", p)
		}
		return nil, mapError(err, "failed to stat object after get")
	}
	return obj, nil
}

func (d *Driver) List(ctx context.Context, systemID, p string, opts filestore.ListOptions) ([]filestore.FileInfo, error) {
	bucket, key := bucketName(systemID), objectKey(p)

	if key != "" {
		stat, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
		if err == nil {
			return pageOf([]filestore.FileInfo{fileInfo(stat)}, opts), nil
		}
		if mapped := mapError(err, "failed to stat "+key); !errs.IsNotFound(mapped) {
			return nil, mapped
		}
	}

	children, found, err := d.children(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if !found && key != "" {
		return nil, errs.Newf(errs.ErrKindNotFound, "/%s does not exist on %s", key, systemID)
	}

	all := make([]filestore.FileInfo, 0, len(children)+1)
	all = append(all, filestore.FileInfo{Name: filestore.SelfName, Path: "/" + key, Type: filestore.TypeDir})
	all = append(all, children...)
	return pageOf(all, opts), nil
}

func (d *Driver) Delete(ctx context.Context, systemID, p string) error {
	bucket, key := bucketName(systemID), objectKey(p)
	if key == "" {
		return errs.New(errs.ErrKindInvalidInput, "refusing to delete a bucket root")
	}
	keys, err := d.keysUnder(ctx, bucket, key)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return errs.Newf(errs.ErrKindNotFound, "/%s does not exist on %s", key, systemID)
	}
	for _, k := range keys {
		if err := d.client.RemoveObject(ctx, bucket, k, miniogo.RemoveObjectOptions{}); err != nil {
			return mapError(err, "failed to remove "+k)
		}
	}
	return nil
}

func (d *Driver) Manage(ctx context.Context, systemID, p string, op filestore.ManageOp) error {
	bucket, key := bucketName(systemID), objectKey(p)

	switch op.Action {
	case filestore.ActionMkdir:
		target := objectKey(path.Join(key, op.Path))
		if target == "" {
			return nil
		}
		_, err := d.client.PutObject(ctx, bucket, target+"/", strings.NewReader(""), 0, miniogo.PutObjectOptions{})
		if err != nil {
			return mapError(err, "failed to create directory "+target)
		}
		return nil
	case filestore.ActionRename:
		if op.Path == "" || strings.Contains(op.Path, "/") {
			return errs.Newf(errs.ErrKindInvalidInput, "invalid new name %q", op.Path)
		}
		return d.relocate(ctx, bucket, key, objectKey(path.Join(path.Dir("/"+key), op.Path)), true)
	case filestore.ActionMove:
		return d.relocate(ctx, bucket, key, objectKey(op.Path), true)
	case filestore.ActionCopy:
		return d.relocate(ctx, bucket, key, objectKey(op.Path), false)
	}
	return errs.Newf(errs.ErrKindInvalidInput, "unsupported action %q", op.Action)
}

func (d *Driver) UpdatePermissions(ctx context.Context, systemID, p string, g filestore.Grant) error {
	if g.Username == "" {
		return errs.New(errs.ErrKindInvalidInput, "username is required")
	}
	bucket, key := bucketName(systemID), objectKey(p)

	var targets []string
	if g.Recursive || key == "" {
		keys, err := d.keysUnder(ctx, bucket, key)
		if err != nil {
			return err
		}
		targets = keys
	} else if _, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{}); err == nil {
		targets = []string{key}
	} else if _, err := d.client.StatObject(ctx, bucket, key+"/", miniogo.StatObjectOptions{}); err == nil {
		targets = []string{key + "/"}
	}
	if len(targets) == 0 && key != "" {
		return errs.Newf(errs.ErrKindNotFound, "/%s does not exist on %s", key, systemID)
	}

	for _, t := range targets {
		current, err := d.client.GetObjectTagging(ctx, bucket, t, miniogo.GetObjectTaggingOptions{})
		if err != nil {
			return mapError(err, "failed to read tags of "+t)
		}
		var existing map[string]string
		if current != nil {
			existing = current.ToMap()
		}
		updated, err := tags.NewTags(applyGrant(existing, g), true)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "invalid permission tag", err)
		}
		if err := d.client.PutObjectTagging(ctx, bucket, t, updated, miniogo.PutObjectTaggingOptions{}); err != nil {
			return mapError(err, "failed to tag "+t)
		}
	}
	return nil
}

// History reports a completed import once the object is visible; S3 writes
// are synchronous.
func (d *Driver) History(ctx context.Context, systemID, p string) ([]filestore.HistoryEvent, error) {
	stat, err := d.client.StatObject(ctx, bucketName(systemID), objectKey(p), miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat "+p)
	}
	return []filestore.HistoryEvent{{Status: filestore.StatusCreated, CreatedAt: stat.LastModified}}, nil
}

func (d *Driver) System(ctx context.Context, systemID string) (*filestore.SystemInfo, error) {
	bucket := bucketName(systemID)
	ok, err := d.client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, mapError(err, "failed to check bucket "+bucket)
	}
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "system %s not found", systemID)
	}
	info := &filestore.SystemInfo{
		ID:   systemID,
		Name: bucket,
		Type: "STORAGE",
		Storage: filestore.StorageInfo{
			Protocol: "S3",
			RootDir:  "/",
		},
	}
	if u := d.client.EndpointURL(); u != nil {
		info.Storage.Host = u.Hostname()
	}
	return info, nil
}

// --- internals ---

// bucketName maps a storage system id to its bucket.
func bucketName(systemID string) string {
	return strings.ToLower(systemID)
}

// objectKey maps a logical path to an object key without a leading slash.
func objectKey(p string) string {
	return storage.Normalize(p)
}

func (d *Driver) isDir(ctx context.Context, bucket, key string) (bool, error) {
	_, found, err := d.children(ctx, bucket, key)
	return found, err
}

// children lists the direct entries under key. found is true when the
// prefix has any object, including its own marker.
func (d *Driver) children(ctx context.Context, bucket, key string) ([]filestore.FileInfo, bool, error) {
	prefix := dirPrefix(key)
	var out []filestore.FileInfo
	found := false
	for obj := range d.client.ListObjects(ctx, bucket, miniogo.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, false, mapError(obj.Err, "failed to list objects")
		}
		found = true
		if obj.Key == prefix {
			continue
		}
		out = append(out, fileInfo(obj))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, found, nil
}

// keysUnder returns key itself when it is an object, plus every object
// below it.
func (d *Driver) keysUnder(ctx context.Context, bucket, key string) ([]string, error) {
	var keys []string
	if key != "" {
		if _, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{}); err == nil {
			keys = append(keys, key)
		}
	}
	opts := miniogo.ListObjectsOptions{Prefix: dirPrefix(key), Recursive: true}
	for obj := range d.client.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (d *Driver) relocate(ctx context.Context, bucket, src, dst string, removeSource bool) error {
	if src == "" || dst == "" {
		return errs.New(errs.ErrKindInvalidInput, "cannot relocate a bucket root")
	}
	if src == dst {
		return errs.Newf(errs.ErrKindInvalidInput, "source and destination are both /%s", src)
	}
	if strings.HasPrefix(dst, src+"/") {
		return errs.Newf(errs.ErrKindInvalidInput, "cannot place /%s inside itself", src)
	}
	existing, err := d.keysUnder(ctx, bucket, dst)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return errs.Newf(errs.ErrKindConflict, "/%s already exists", dst)
	}
	keys, err := d.keysUnder(ctx, bucket, src)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return errs.Newf(errs.ErrKindNotFound, "/%s does not exist", src)
	}

	for _, k := range keys {
		target := dst + strings.TrimPrefix(k, src)
		_, err := d.client.CopyObject(ctx,
			miniogo.CopyDestOptions{Bucket: bucket, Object: target},
			miniogo.CopySrcOptions{Bucket: bucket, Object: k},
		)
		if err != nil {
			return mapError(err, "failed to copy "+k)
		}
	}
	if !removeSource {
		return nil
	}
	for _, k := range keys {
		if err := d.client.RemoveObject(ctx, bucket, k, miniogo.RemoveObjectOptions{}); err != nil {
			return mapError(err, "failed to remove "+k)
		}
	}
	return nil
}

func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

// fileInfo converts an S3 listing or stat entry. Keys ending in "/" are
// common prefixes or directory markers.
func fileInfo(obj miniogo.ObjectInfo) filestore.FileInfo {
	isDir := strings.HasSuffix(obj.Key, "/")
	key := strings.TrimSuffix(obj.Key, "/")
	fi := filestore.FileInfo{
		Name:         path.Base("/" + key),
		Path:         "/" + key,
		Type:         filestore.TypeFile,
		Length:       obj.Size,
		LastModified: obj.LastModified,
		MimeType:     obj.ContentType,
	}
	if isDir {
		fi.Type = filestore.TypeDir
		fi.Length = 0
	}
	return fi
}

// applyGrant returns tagSet with g recorded. PermNone removes the grant.
func applyGrant(tagSet map[string]string, g filestore.Grant) map[string]string {
	out := make(map[string]string, len(tagSet)+1)
	for k, v := range tagSet {
		out[k] = v
	}
	k := pemTagPrefix + g.Username
	if g.Permission == filestore.PermNone {
		delete(out, k)
	} else {
		out[k] = string(g.Permission)
	}
	return out
}

func pageOf(all []filestore.FileInfo, opts filestore.ListOptions) []filestore.FileInfo {
	if opts.Offset >= len(all) {
		return []filestore.FileInfo{}
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all
}
