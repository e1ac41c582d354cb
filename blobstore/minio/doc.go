// Package minio provides a blobstore backed by MinIO or any S3-compatible
// object storage (Ceph, SeaweedFS, Garage).
//
// It uses the official MinIO Go client, which keeps the dependency surface
// small for air-gapped deployments where pulling in the AWS SDK is
// undesirable.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "indexes/msmarco")
//
// Reads use ranged GETs and writes stream through PutObject, matching the
// access patterns of the s3 package.
package minio
