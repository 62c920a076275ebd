package cbmgmtx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMgmtCreateBucketEncodesSettings(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/default/buckets", r.URL.Path)
		require.Equal(t, "POST", r.Method)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(202)
	}))
	defer srv.Close()

	err := newTestMgmt(srv.URL).CreateBucket(context.Background(), &CreateBucketOptions{
		BucketName: "testbucket",
		BucketSettings: BucketSettings{
			MutableBucketSettings: MutableBucketSettings{
				RAMQuotaMB:    256,
				FlushEnabled:  true,
				ReplicaNumber: 1,
			},
			BucketType:     BucketTypeCouchbase,
			StorageBackend: StorageBackendCouchstore,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "testbucket", gotForm.Get("name"))
	assert.Equal(t, "256", gotForm.Get("ramQuotaMB"))
	assert.Equal(t, "1", gotForm.Get("flushEnabled"))
	assert.Equal(t, "1", gotForm.Get("replicaNumber"))
	assert.Equal(t, "membase", gotForm.Get("bucketType"))
	assert.Equal(t, "couchstore", gotForm.Get("storageBackend"))
	assert.Equal(t, "0", gotForm.Get("replicaIndex"))
}

func TestMgmtCreateBucketOmitsReplicaIndexForEphemeral(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(202)
	}))
	defer srv.Close()

	err := newTestMgmt(srv.URL).CreateBucket(context.Background(), &CreateBucketOptions{
		BucketName: "testbucket",
		BucketSettings: BucketSettings{
			MutableBucketSettings: MutableBucketSettings{
				RAMQuotaMB: 100,
			},
			BucketType: BucketTypeEphemeral,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "ephemeral", gotForm.Get("bucketType"))
	assert.False(t, gotForm.Has("replicaIndex"))
}

func TestMgmtCreateBucketAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`{"errors":{"name":"Bucket with given name already exists"},"summaries":{}}`))
	}))
	defer srv.Close()

	err := newTestMgmt(srv.URL).CreateBucket(context.Background(), &CreateBucketOptions{
		BucketName: "testbucket",
		BucketSettings: BucketSettings{
			MutableBucketSettings: MutableBucketSettings{
				RAMQuotaMB: 100,
			},
		},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrBucketExists)
}

func TestMgmtGetBucketDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/default/buckets/testbucket", r.URL.Path)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"name": "testbucket",
			"uuid": "4a22049bbe6ff4bef9bcebe61372a6a5",
			"bucketType": "membase",
			"storageBackend": "couchstore",
			"replicaNumber": 1,
			"replicaIndex": false,
			"conflictResolutionType": "seqno",
			"evictionPolicy": "valueOnly",
			"compressionMode": "passive",
			"durabilityMinLevel": "none",
			"maxTTL": 0,
			"quota": {"ram": 268435456, "rawRAM": 268435456},
			"controllers": {"flush": "/pools/default/buckets/testbucket/controller/doFlush"},
			"nodes": [
				{"hostname": "192.168.1.1:8091", "status": "healthy", "otpNode": "ns_1@192.168.1.1"},
				{"hostname": "192.168.1.2:8091", "status": "healthy", "otpNode": "ns_1@192.168.1.2"}
			]
		}`))
	}))
	defer srv.Close()

	def, err := newTestMgmt(srv.URL).GetBucket(context.Background(), &GetBucketOptions{
		BucketName: "testbucket",
	})
	require.NoError(t, err)

	assert.Equal(t, "testbucket", def.BucketName)
	assert.Equal(t, "4a22049bbe6ff4bef9bcebe61372a6a5", def.BucketUUID)
	assert.Equal(t, BucketTypeCouchbase, def.BucketType)
	assert.Equal(t, StorageBackendCouchstore, def.StorageBackend)
	assert.Equal(t, uint64(256), def.RAMQuotaMB)
	assert.Equal(t, uint32(1), def.ReplicaNumber)
	assert.True(t, def.FlushEnabled)
	assert.Equal(t, EvictionPolicyTypeValueOnly, def.EvictionPolicy)
	assert.Equal(t, []string{"healthy", "healthy"}, def.NodeStatuses)
	assert.True(t, def.AllNodesHealthy())
}

func TestMgmtGetBucketUnhealthyNodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"name": "testbucket",
			"quota": {"rawRAM": 104857600},
			"controllers": {},
			"nodes": [
				{"hostname": "192.168.1.1:8091", "status": "healthy"},
				{"hostname": "192.168.1.2:8091", "status": "warmup"}
			]
		}`))
	}))
	defer srv.Close()

	def, err := newTestMgmt(srv.URL).GetBucket(context.Background(), &GetBucketOptions{
		BucketName: "testbucket",
	})
	require.NoError(t, err)
	assert.False(t, def.AllNodesHealthy())
	assert.False(t, def.FlushEnabled)
}

func TestMgmtGetBucketNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		_, _ = w.Write([]byte(`Requested resource not found.`))
	}))
	defer srv.Close()

	_, err := newTestMgmt(srv.URL).GetBucket(context.Background(), &GetBucketOptions{
		BucketName: "missing-bucket",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrBucketNotFound)
}

func TestMgmtGetAllBuckets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/default/buckets", r.URL.Path)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`[
			{"name": "one", "quota": {"rawRAM": 104857600}, "controllers": {}},
			{"name": "two", "quota": {"rawRAM": 209715200}, "controllers": {}}
		]`))
	}))
	defer srv.Close()

	defs, err := newTestMgmt(srv.URL).GetAllBuckets(context.Background(), &GetAllBucketsOptions{})
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "one", defs[0].BucketName)
	assert.Equal(t, uint64(100), defs[0].RAMQuotaMB)
	assert.Equal(t, "two", defs[1].BucketName)
	assert.Equal(t, uint64(200), defs[1].RAMQuotaMB)
}

func TestMgmtFlushBucketDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/default/buckets/testbucket/controller/doFlush", r.URL.Path)
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`Flush is disabled for the bucket`))
	}))
	defer srv.Close()

	err := newTestMgmt(srv.URL).FlushBucket(context.Background(), &FlushBucketOptions{
		BucketName: "testbucket",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrFlushDisabled)
}

func TestMgmtListSampleBuckets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sampleBuckets", r.URL.Path)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`[
			{"name": "beer-sample", "installed": false, "quotaNeeded": 104857600},
			{"name": "travel-sample", "installed": true, "quotaNeeded": 104857600}
		]`))
	}))
	defer srv.Close()

	samples, err := newTestMgmt(srv.URL).ListSampleBuckets(context.Background(), &ListSampleBucketsOptions{})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "beer-sample", samples[0].Name)
	assert.False(t, samples[0].Installed)
	assert.True(t, samples[1].Installed)
}

func TestMgmtInstallSampleBucket(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sampleBuckets/install", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = body
		w.WriteHeader(202)
		_, _ = w.Write([]byte(`{"tasks":[{"taskId":"a5eee9ae-9f9e-4227-8a9d-ba4b1a8ec12c"}]}`))
	}))
	defer srv.Close()

	resp, err := newTestMgmt(srv.URL).InstallSampleBucket(context.Background(), &InstallSampleBucketOptions{
		SampleBuckets: []string{"travel-sample"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "a5eee9ae-9f9e-4227-8a9d-ba4b1a8ec12c", resp.Tasks[0].TaskId)
	assert.JSONEq(t, `["travel-sample"]`, string(gotBody))
}

func TestMgmtListTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/default/tasks", r.URL.Path)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`[
			{"type": "loadingSampleBucket", "status": "running", "bucket": "travel-sample", "taskId": "a5eee9ae-9f9e-4227-8a9d-ba4b1a8ec12c"},
			{"type": "rebalance", "status": "notRunning"}
		]`))
	}))
	defer srv.Close()

	tasks, err := newTestMgmt(srv.URL).ListTasks(context.Background(), &ListTasksOptions{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "loadingSampleBucket", tasks[0].Type)
	assert.Equal(t, "running", tasks[0].Status)
	assert.Equal(t, "travel-sample", tasks[0].Bucket)
	assert.Equal(t, "a5eee9ae-9f9e-4227-8a9d-ba4b1a8ec12c", tasks[0].TaskId)
}

func TestMgmtCreateScopeAndCollection(t *testing.T) {
	var paths []string
	var forms []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		paths = append(paths, r.URL.Path)
		forms = append(forms, r.PostForm)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"uid":"1"}`))
	}))
	defer srv.Close()

	mgmt := newTestMgmt(srv.URL)

	err := mgmt.CreateScope(context.Background(), &CreateScopeOptions{
		BucketName: "testbucket",
		ScopeName:  "app",
	})
	require.NoError(t, err)

	err = mgmt.CreateCollection(context.Background(), &CreateCollectionOptions{
		BucketName:     "testbucket",
		ScopeName:      "app",
		CollectionName: "users",
		MaxTTL:         120,
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"/pools/default/buckets/testbucket/scopes",
		"/pools/default/buckets/testbucket/scopes/app/collections",
	}, paths)
	assert.Equal(t, "app", forms[0].Get("name"))
	assert.Equal(t, "users", forms[1].Get("name"))
	assert.Equal(t, "120", forms[1].Get("maxTTL"))
}

func TestMgmtCreateScopeAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`{"errors":{"_":"Scope with name \"app\" already exists"}}`))
	}))
	defer srv.Close()

	err := newTestMgmt(srv.URL).CreateScope(context.Background(), &CreateScopeOptions{
		BucketName: "testbucket",
		ScopeName:  "app",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrScopeExists)
}

func TestMgmtGetCollectionManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools/default/buckets/testbucket/scopes", r.URL.Path)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"uid": "3",
			"scopes": [
				{"uid": "8", "name": "app", "collections": [{"uid": "9", "name": "users", "maxTTL": 120}]},
				{"uid": "0", "name": "_default", "collections": [{"uid": "0", "name": "_default"}]}
			]
		}`))
	}))
	defer srv.Close()

	manifest, err := newTestMgmt(srv.URL).GetCollectionManifest(context.Background(), &GetCollectionManifestOptions{
		BucketName: "testbucket",
	})
	require.NoError(t, err)
	assert.Equal(t, "3", manifest.UID)
	require.Len(t, manifest.Scopes, 2)
	assert.Equal(t, "app", manifest.Scopes[0].Name)
	require.Len(t, manifest.Scopes[0].Collections, 1)
	assert.Equal(t, "users", manifest.Scopes[0].Collections[0].Name)
	assert.Equal(t, uint32(120), manifest.Scopes[0].Collections[0].MaxTTL)
}
