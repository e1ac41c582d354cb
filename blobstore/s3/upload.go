package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// UploadConfig tunes multipart uploads.
type UploadConfig struct {
	// PartSize is the size of each upload part in bytes.
	PartSize int64

	// Concurrency is the number of parts uploaded in parallel.
	Concurrency int

	// EnableChecksum attaches a CRC32C checksum so S3 verifies the payload
	// end to end.
	EnableChecksum bool

	// LeavePartsOnError keeps already uploaded parts around after a failed
	// multipart upload for manual recovery. Incomplete parts accrue storage
	// cost until removed.
	LeavePartsOnError bool
}

// DefaultUploadConfig returns settings suited to chunk-sized index files.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:       8 * 1024 * 1024,
		Concurrency:    5,
		EnableChecksum: true,
	}
}

func newUploader(client Client, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}

		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}

		u.LeavePartsOnError = cfg.LeavePartsOnError
	})
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// crc32cBase64 returns the CRC32C of data in the base64 form the S3 API
// expects for the x-amz-checksum-crc32c header.
func crc32cBase64(data []byte) string {
	var sum [4]byte

	binary.BigEndian.PutUint32(sum[:], crc32.Checksum(data, crc32cTable))

	return base64.StdEncoding.EncodeToString(sum[:])
}

// putObject uploads data as a single PutObject call with an optional
// precomputed checksum.
func putObject(ctx context.Context, client Client, bucket, key string, data []byte, enableChecksum bool) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}

	if enableChecksum {
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
		input.ChecksumCRC32C = aws.String(crc32cBase64(data))
	}

	_, err := client.PutObject(ctx, input)

	return err
}
