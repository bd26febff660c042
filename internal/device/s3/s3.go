// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package s3 implements the device backend on top of an s3 bucket. The device
// address space is cut into fixed size objects, object n holding bytes
// [n*ObjectSize, (n+1)*ObjectSize). Objects which were never written read as
// zeroes. It uses aws api v1.
package s3

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"golang.org/x/net/http2"
)

const (
	// Format string for the object key. We split the key into halves and
	// use the lower half of bits as s3 prefix and upper half for the
	// object key. This is to prevent s3 rate limiting which is applied to
	// objects with the same prefix.
	keyFmt = "%s%08x/%08x"

	// Number of locks serializing read-modify-write cycles of partially
	// written objects.
	objectLocks = 256

	DefaultObjectSize = 4 * 1024 * 1024
)

// Implementation of the device backend using AWS S3. Parameters of http
// connection are carefully tuned for the best performance in the AWS
// environment.
type S3 struct {
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	client     *s3.S3
	bucket     string
	prefix     string
	size       int64
	objectSize int64

	locks [objectLocks]sync.Mutex
}

// Options to use in New() function due to high number of parameters. There is
// lower chance of ordering mistake with named parameters.
type Options struct {
	Remote    string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string

	// Size of the device in bytes.
	Size int64

	// Size of one object in bytes. Zero means DefaultObjectSize.
	ObjectSize int64
}

// Helper struct used for tuning the http connection.
type httpClientSettings struct {
	connect          time.Duration
	connKeepAlive    time.Duration
	expectContinue   time.Duration
	idleConn         time.Duration
	maxAllIdleConns  int
	maxHostIdleConns int
	responseHeader   time.Duration
	tlsHandshake     time.Duration
}

// Returns http client with configured parameters and added https2 support.
func newHTTPClientWithSettings(httpSettings httpClientSettings) *http.Client {
	tr := &http.Transport{
		ResponseHeaderTimeout: httpSettings.responseHeader,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: httpSettings.connKeepAlive,
			Timeout:   httpSettings.connect,
		}).DialContext,
		MaxIdleConns:          httpSettings.maxAllIdleConns,
		IdleConnTimeout:       httpSettings.idleConn,
		TLSHandshakeTimeout:   httpSettings.tlsHandshake,
		MaxIdleConnsPerHost:   httpSettings.maxHostIdleConns,
		ExpectContinueTimeout: httpSettings.expectContinue,
	}

	http2.ConfigureTransport(tr)

	return &http.Client{
		Transport: tr,
	}
}

func New(o Options) (*S3, error) {
	if o.ObjectSize <= 0 {
		o.ObjectSize = DefaultObjectSize
	}

	if o.Size <= 0 {
		return nil, fmt.Errorf("s3 device %s/%s needs positive size", o.Bucket, o.Prefix)
	}

	s := &S3{
		bucket:     o.Bucket,
		prefix:     o.Prefix,
		size:       o.Size,
		objectSize: o.ObjectSize,
	}

	// Following settings are recommended by AWS for usage in their
	// network.
	httpClient := newHTTPClientWithSettings(httpClientSettings{
		connect:          5 * time.Second,
		expectContinue:   1 * time.Second,
		idleConn:         90 * time.Second,
		connKeepAlive:    30 * time.Second,
		maxAllIdleConns:  100,
		maxHostIdleConns: 10,
		responseHeader:   5 * time.Second,
		tlsHandshake:     5 * time.Second,
	})

	sess, err := session.NewSession(&aws.Config{
		Endpoint:                      aws.String(o.Remote),
		Region:                        aws.String(o.Region),
		Credentials:                   credentials.NewStaticCredentials(o.AccessKey, o.SecretKey, ""),
		S3ForcePathStyle:              aws.Bool(true),
		S3DisableContentMD5Validation: aws.Bool(true),
		HTTPClient:                    httpClient,
	})

	if err != nil {
		return nil, err
	}

	s.client = s3.New(sess)
	s.uploader = s3manager.NewUploader(sess)
	s.downloader = s3manager.NewDownloader(sess)

	// Objects are small, multipart transfers do not help. Parallelism
	// comes from the proxy workers.
	s.uploader.Concurrency = 1
	s3manager.WithUploaderRequestOptions(request.Option(func(r *request.Request) {
		r.HTTPRequest.Header.Add("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	}))(s.uploader)
	s.downloader.Concurrency = 1

	err = s.makeBucketExist()

	return s, err
}

// ReadAt reads all objects covering the range. Missing objects read as
// zeroes.
func (s *S3) ReadAt(buf []byte, offset int64) (int, error) {
	done := 0

	for done < len(buf) {
		key, inObject, n := s.locate(offset+int64(done), len(buf)-done)
		part := buf[done : done+n]

		err := s.downloadAt(key, part, inObject)
		if isNotFound(err) {
			zero(part)
			err = nil
		}

		if err != nil {
			return done, err
		}

		done += n
	}

	return done, nil
}

// WriteAt uploads whole objects directly and does read-modify-write for
// objects which are written partially.
func (s *S3) WriteAt(buf []byte, offset int64) (int, error) {
	done := 0

	for done < len(buf) {
		key, inObject, n := s.locate(offset+int64(done), len(buf)-done)
		part := buf[done : done+n]

		var err error
		if int64(n) == s.objectSize {
			err = s.upload(key, part)
		} else {
			err = s.patch(key, part, inObject)
		}

		if err != nil {
			return done, err
		}

		done += n
	}

	return done, nil
}

// Uploads are synchronous, there is nothing to flush.
func (s *S3) Sync() error {
	return nil
}

func (s *S3) Size() int64 {
	return s.size
}

func (s *S3) Close() error {
	return nil
}

// Returns object key, offset in the object and number of bytes of the
// request which belong to the object.
func (s *S3) locate(offset int64, length int) (int64, int64, int) {
	key := offset / s.objectSize
	inObject := offset % s.objectSize

	n := s.objectSize - inObject
	if int64(length) < n {
		n = int64(length)
	}

	return key, inObject, int(n)
}

// Read-modify-write of one object under its lock.
func (s *S3) patch(key int64, part []byte, inObject int64) error {
	l := &s.locks[key%objectLocks]
	l.Lock()
	defer l.Unlock()

	object := make([]byte, s.objectSize)
	err := s.downloadAt(key, object, 0)
	if err != nil && !isNotFound(err) {
		return errors.Wrapf(err, "read-modify-write of object %d", key)
	}

	copy(object[inObject:], part)

	return s.upload(key, object)
}

func (s *S3) upload(key int64, buf []byte) error {
	_, err := s.uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.encode(key)),
		Body:   bytes.NewReader(buf),
	})

	return err
}

func (s *S3) downloadAt(key int64, buf []byte, offset int64) error {
	to := offset + int64(len(buf)) - 1
	rng := fmt.Sprintf("bytes=%d-%d", offset, to)
	b := aws.NewWriteAtBuffer(buf)

	_, err := s.downloader.Download(b, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.encode(key)),
		Range:  &rng,
	})

	return err
}

// Check whether bucket exist and if not, create it and wait until it appears.
func (s *S3) makeBucketExist() error {
	_, err := s.client.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(s.bucket)})

	if err != nil {
		_, err = s.client.CreateBucket(&s3.CreateBucketInput{
			Bucket: aws.String(s.bucket)})

		if err == nil {
			err = s.client.WaitUntilBucketExists(&s3.HeadBucketInput{
				Bucket: aws.String(s.bucket)})
		}
	}

	return err
}

func (s *S3) encode(key int64) string {
	return encode(s.prefix, key)
}

func encode(prefix string, key int64) string {
	left := (key >> 32) & 0xffffffff
	right := key & 0xffffffff

	return fmt.Sprintf(keyFmt, prefix, right, left)
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}

	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}

	return false
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
