package subaru

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const repoIndexKey = "repo-index.json"

// RepoEntry is one published archive in repo-index.json.
type RepoEntry struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
	B3Sum       string `json:"b3sum"`
}

// mirrorClient talks to the S3-compatible bucket that serves published
// archives.
type mirrorClient struct {
	client *s3.Client
	bucket string
}

func newMirrorClient(ctx context.Context, cfg *Config) (*mirrorClient, error) {
	endpoint := cfg.Values["SUBARU_MIRROR_ENDPOINT"]
	accessKey := cfg.Values["SUBARU_MIRROR_ACCESS_KEY_ID"]
	secretKey := cfg.Values["SUBARU_MIRROR_SECRET_ACCESS_KEY"]
	bucket := cfg.Values["SUBARU_MIRROR_BUCKET"]
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, errors.New("mirror not configured: set SUBARU_MIRROR_ENDPOINT, " +
			"SUBARU_MIRROR_ACCESS_KEY_ID, SUBARU_MIRROR_SECRET_ACCESS_KEY and SUBARU_MIRROR_BUCKET")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint}, nil
		})

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion("auto"),
	}
	if Debug {
		loadOpts = append(loadOpts,
			awsconfig.WithClientLogMode(aws.LogRequestWithBody|aws.LogResponseWithBody))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading mirror credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &mirrorClient{client: client, bucket: bucket}, nil
}

func (m *mirrorClient) downloadObject(ctx context.Context, key string) ([]byte, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (m *mirrorClient) uploadFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	cPrintf(colArrow, "-> ")
	cPrintf(colSuccess, "Uploading %s (%s)\n", key, humanReadableSize(st.Size()))
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	return err
}

func (m *mirrorClient) uploadBytes(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (m *mirrorClient) deleteObject(ctx context.Context, key string) error {
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (m *mirrorClient) listObjects(ctx context.Context) ([]types.Object, error) {
	var objects []types.Object
	paginator := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, archiveSuffix):
		return "application/zstd"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// readArchiveMetadata pulls metadata.yaml back out of a finished archive.
func readArchiveMetadata(path string) (*packageMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", path, err)
		}
		if filepath.Clean(hdr.Name) != metadataFileName {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading metadata from %s: %w", path, err)
		}
		var meta packageMetadata
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("decoding metadata from %s: %w", path, err)
		}
		return &meta, nil
	}
	return nil, fmt.Errorf("no %s found in %s", metadataFileName, path)
}

// compareVersions orders dotted version strings segment by segment, numeric
// where possible, lexicographic otherwise. Returns -1, 0 or 1.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var aseg, bseg string
		if i < len(as) {
			aseg = as[i]
		}
		if i < len(bs) {
			bseg = bs[i]
		}
		av, aerr := strconv.Atoi(aseg)
		bv, berr := strconv.Atoi(bseg)
		if aerr == nil && berr == nil {
			if av != bv {
				if av < bv {
					return -1
				}
				return 1
			}
			continue
		}
		if aseg != bseg {
			if aseg < bseg {
				return -1
			}
			return 1
		}
	}
	return 0
}

// handlePublishCommand syncs local archives to the mirror: uploads new or
// changed ones, rewrites repo-index.json, and optionally prunes objects no
// index entry references.
func handlePublishCommand(ctx context.Context, cfg *Config, args []string) error {
	dir := "."
	cleanup := false
	for _, arg := range args {
		switch {
		case arg == "--cleanup":
			cleanup = true
		case strings.HasPrefix(arg, "--"):
			cPrintln(colWarn, "Ignoring unknown flag:", arg)
		default:
			dir = arg
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", dir, err)
	}
	latest := make(map[string]RepoEntry)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		path := filepath.Join(dir, name)
		meta, err := readArchiveMetadata(path)
		if err != nil {
			cPrintln(colWarn, "Skipping "+name+":", err)
			continue
		}
		sum, err := computeB3Sum(path)
		if err != nil {
			cPrintln(colWarn, "Skipping "+name+":", err)
			continue
		}
		cand := RepoEntry{
			Name:        meta.Name,
			Version:     meta.Version,
			Description: meta.Description,
			Filename:    name,
			B3Sum:       sum,
		}
		if prev, ok := latest[meta.Name]; !ok || compareVersions(cand.Version, prev.Version) > 0 {
			latest[meta.Name] = cand
		}
	}
	if len(latest) == 0 {
		return fmt.Errorf("no %s archives found in %s", archiveSuffix, dir)
	}

	mirror, err := newMirrorClient(ctx, cfg)
	if err != nil {
		return err
	}

	var index []RepoEntry
	if data, err := mirror.downloadObject(ctx, repoIndexKey); err != nil {
		cPrintln(colWarn, "No remote index found, starting a new one.")
	} else if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("decoding remote %s: %w", repoIndexKey, err)
	}
	byName := make(map[string]RepoEntry, len(index))
	for _, e := range index {
		byName[e.Name] = e
	}

	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	sort.Strings(names)

	uploaded := 0
	for _, name := range names {
		cand := latest[name]
		prev, exists := byName[name]
		if exists && prev.B3Sum == cand.B3Sum {
			cPrintln(colInfo, cand.Filename, "is already up to date.")
			continue
		}
		if exists && compareVersions(cand.Version, prev.Version) < 0 {
			cPrintln(colWarn, "Remote has newer "+name+" ("+prev.Version+"); skipping "+cand.Version+".")
			continue
		}
		if !askForConfirmation(colNote, "Upload %s (%s)? [y/N]: ", cand.Filename, cand.Version) {
			cPrintln(colInfo, "Skipped", cand.Filename)
			continue
		}
		if err := mirror.uploadFile(ctx, cand.Filename, filepath.Join(dir, cand.Filename)); err != nil {
			return fmt.Errorf("uploading %s: %w", cand.Filename, err)
		}
		if exists && prev.Filename != cand.Filename {
			if err := mirror.deleteObject(ctx, prev.Filename); err != nil {
				cPrintln(colWarn, "Could not delete old archive "+prev.Filename+":", err)
			}
		}
		byName[name] = cand
		uploaded++
	}

	merged := make([]RepoEntry, 0, len(byName))
	for _, e := range byName {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Name < merged[j].Name })

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := mirror.uploadBytes(ctx, repoIndexKey, data, "application/json"); err != nil {
		return fmt.Errorf("uploading %s: %w", repoIndexKey, err)
	}
	cPrintf(colSuccess, "Index updated: %d entries, %d uploaded.\n", len(merged), uploaded)

	objects, err := mirror.listObjects(ctx)
	if err != nil {
		cPrintln(colWarn, "Could not list bucket contents:", err)
		return nil
	}
	referenced := make(map[string]bool, len(byName))
	for _, e := range byName {
		referenced[e.Filename] = true
	}
	var total int64
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		size := aws.ToInt64(obj.Size)
		total += size
		if !cleanup || key == repoIndexKey || referenced[key] || !strings.HasSuffix(key, archiveSuffix) {
			continue
		}
		if askForConfirmation(colWarn, "Delete unreferenced %s (%s)? [y/N]: ", key, humanReadableSize(size)) {
			if err := mirror.deleteObject(ctx, key); err != nil {
				cPrintln(colWarn, "Could not delete "+key+":", err)
			} else {
				cPrintln(colInfo, "Deleted", key)
				total -= size
			}
		}
	}
	cPrintln(colInfo, "Bucket storage in use:", humanReadableSize(total))
	if total > 10<<30 {
		cPrintln(colWarn, "Bucket exceeds 10 GiB; consider pruning old archives.")
	}
	return nil
}
