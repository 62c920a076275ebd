package cbmgmtx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
)

func (h Management) decodeBucketError(resp *http.Response) error {
	bodyBytes := h.readErrorBody(resp)
	errText := strings.ToLower(string(bodyBytes))

	var cause error
	if resp.StatusCode == 404 {
		if strings.Contains(errText, "resource not found") ||
			strings.Contains(errText, "bucket") {
			cause = ErrBucketNotFound
		}
	} else if strings.Contains(errText, "already exists") {
		cause = ErrBucketExists
	} else if strings.Contains(errText, "flush is disabled") {
		cause = ErrFlushDisabled
	}

	if cause != nil {
		return ServerError{
			Cause:      cause,
			StatusCode: resp.StatusCode,
			Body:       bodyBytes,
		}
	}

	return h.decodeCommonErrorBody(resp.StatusCode, bodyBytes)
}

type GetAllBucketsOptions struct {
}

func (h Management) GetAllBuckets(ctx context.Context, opts *GetAllBucketsOptions) ([]*BucketDef, error) {
	resp, err := h.Execute(ctx, "GET", "/pools/default/buckets", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.decodeBucketError(resp)
	}

	buckets, err := cbhttpx.ReadAsJsonAndClose[[]bucketSettingsJson](resp.Body)
	if err != nil {
		return nil, err
	}

	defs := make([]*BucketDef, 0, len(buckets))
	for _, bucket := range buckets {
		def, err := bucketDefFromJson(bucket)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return defs, nil
}

type GetBucketOptions struct {
	BucketName string
}

func (h Management) GetBucket(ctx context.Context, opts *GetBucketOptions) (*BucketDef, error) {
	if opts.BucketName == "" {
		return nil, errors.New("must specify bucket name when fetching a bucket")
	}

	resp, err := h.Execute(ctx, "GET",
		fmt.Sprintf("/pools/default/buckets/%s", opts.BucketName), "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.decodeBucketError(resp)
	}

	bucket, err := cbhttpx.ReadAsJsonAndClose[bucketSettingsJson](resp.Body)
	if err != nil {
		return nil, err
	}

	return bucketDefFromJson(bucket)
}

type CreateBucketOptions struct {
	BucketName string
	BucketSettings
}

func (h Management) CreateBucket(ctx context.Context, opts *CreateBucketOptions) error {
	if opts.BucketName == "" {
		return errors.New("must specify bucket name when creating a bucket")
	}

	posts := url.Values{}
	posts.Add("name", opts.BucketName)

	err := encodeBucketSettings(posts, &opts.BucketSettings)
	if err != nil {
		return err
	}

	resp, err := h.Execute(ctx, "POST", "/pools/default/buckets",
		"application/x-www-form-urlencoded", strings.NewReader(posts.Encode()))
	if err != nil {
		return err
	}

	if resp.StatusCode != 202 {
		return h.decodeBucketError(resp)
	}

	_ = resp.Body.Close()
	return nil
}

type UpdateBucketOptions struct {
	BucketName string
	MutableBucketSettings
}

func (h Management) UpdateBucket(ctx context.Context, opts *UpdateBucketOptions) error {
	if opts.BucketName == "" {
		return errors.New("must specify bucket name when updating a bucket")
	}

	posts := url.Values{}

	err := encodeMutableBucketSettings(posts, &opts.MutableBucketSettings)
	if err != nil {
		return err
	}

	resp, err := h.Execute(ctx, "POST",
		fmt.Sprintf("/pools/default/buckets/%s", opts.BucketName),
		"application/x-www-form-urlencoded", strings.NewReader(posts.Encode()))
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.decodeBucketError(resp)
	}

	_ = resp.Body.Close()
	return nil
}

type DeleteBucketOptions struct {
	BucketName string
}

func (h Management) DeleteBucket(ctx context.Context, opts *DeleteBucketOptions) error {
	if opts.BucketName == "" {
		return errors.New("must specify bucket name when deleting a bucket")
	}

	resp, err := h.Execute(ctx, "DELETE",
		fmt.Sprintf("/pools/default/buckets/%s", opts.BucketName), "", nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.decodeBucketError(resp)
	}

	_ = resp.Body.Close()
	return nil
}

type FlushBucketOptions struct {
	BucketName string
}

func (h Management) FlushBucket(ctx context.Context, opts *FlushBucketOptions) error {
	if opts.BucketName == "" {
		return errors.New("must specify bucket name when flushing a bucket")
	}

	resp, err := h.Execute(ctx, "POST",
		fmt.Sprintf("/pools/default/buckets/%s/controller/doFlush", opts.BucketName),
		"", nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return h.decodeBucketError(resp)
	}

	_ = resp.Body.Close()
	return nil
}
