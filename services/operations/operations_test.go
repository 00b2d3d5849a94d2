package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"roachplane/services/runner"
	"roachplane/services/store"
)

// fakeGateway is an in-memory stand-in for the persistence gateway.
type fakeGateway struct {
	clusters map[string]store.Cluster
	jobs     map[int64]string
	beats    map[int64]int
	tasks    map[int64][]store.Task
	links    map[string][]int64
	enqueued []store.Message
	settings map[string]string
	secrets  map[string]string
	zones    fakeZones
	reaped   []int64
	nextID   int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		clusters: map[string]store.Cluster{},
		jobs:     map[int64]string{},
		beats:    map[int64]int{},
		tasks:    map[int64][]store.Task{},
		links:    map[string][]int64{},
		settings: map[string]string{
			"default_username":  "roach",
			"cloud_storage_url": "s3://backups/prod",
			"zombie_threshold":  "120",
		},
		secrets: map[string]string{},
		zones: fakeZones{
			"aws:us-east-1": zones("aws", "us-east-1", "a", "b", "c"),
			"gcp:eu-west1":  zones("gcp", "eu-west1", "b", "c"),
		},
		nextID: 100,
	}
}

func (f *fakeGateway) GetCluster(_ context.Context, id string) (store.Cluster, error) {
	c, ok := f.clusters[id]
	if !ok {
		return store.Cluster{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeGateway) CreateCluster(_ context.Context, c store.Cluster) error {
	if _, ok := f.clusters[c.ClusterID]; ok {
		return store.ErrClusterExists
	}
	f.clusters[c.ClusterID] = c
	return nil
}

func (f *fakeGateway) ReplaceCluster(_ context.Context, c store.Cluster) error {
	f.clusters[c.ClusterID] = c
	return nil
}

func (f *fakeGateway) UpdateCluster(_ context.Context, id, updatedBy string, upd store.ClusterUpdate) error {
	c, ok := f.clusters[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.Version != nil {
		c.Version = *upd.Version
	}
	if upd.NodeCount != nil {
		c.NodeCount = *upd.NodeCount
	}
	if upd.NodeCPUs != nil {
		c.NodeCPUs = *upd.NodeCPUs
	}
	if upd.DiskSize != nil {
		c.DiskSize = *upd.DiskSize
	}
	if upd.ClusterInventory != nil {
		raw, _ := json.Marshal(*upd.ClusterInventory)
		c.ClusterInventory = raw
	}
	if upd.LBsInventory != nil {
		raw, _ := json.Marshal(*upd.LBsInventory)
		c.LBsInventory = raw
	}
	c.UpdatedBy = updatedBy
	f.clusters[id] = c
	return nil
}

func (f *fakeGateway) GetRunningClusters(_ context.Context) ([]store.Cluster, error) {
	var out []store.Cluster
	for _, c := range f.clusters {
		if c.Status == store.ClusterRunning {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeGateway) UpdateJobStatus(_ context.Context, jobID int64, status string) error {
	// Terminal statuses never transition, matching the store's guard.
	if cur := f.jobs[jobID]; cur == store.JobCompleted || cur == store.JobFailed {
		return store.ErrJobTerminal
	}
	f.jobs[jobID] = status
	return nil
}

func (f *fakeGateway) TouchJob(_ context.Context, jobID int64) error {
	f.beats[jobID]++
	return nil
}

func (f *fakeGateway) LinkJobCluster(_ context.Context, clusterID string, jobID int64) error {
	f.links[clusterID] = append(f.links[clusterID], jobID)
	return nil
}

func (f *fakeGateway) AppendTask(_ context.Context, jobID int64, taskID int, createdAt time.Time, name, desc string) error {
	f.tasks[jobID] = append(f.tasks[jobID], store.Task{JobID: jobID, TaskID: taskID, CreatedAt: createdAt, TaskName: name, TaskDesc: desc})
	return nil
}

func (f *fakeGateway) Enqueue(_ context.Context, msgType string, payload any, createdBy string, startAfter time.Time) (int64, error) {
	f.nextID++
	data, _ := json.Marshal(payload)
	f.enqueued = append(f.enqueued, store.Message{
		MsgID:      f.nextID,
		StartAfter: startAfter,
		MsgType:    msgType,
		MsgData:    string(data),
		CreatedBy:  createdBy,
	})
	return f.nextID, nil
}

func (f *fakeGateway) FailZombieJobs(_ context.Context, threshold time.Duration, nextTick time.Time, createdBy string) ([]int64, error) {
	f.enqueued = append(f.enqueued, store.Message{MsgType: store.MsgFailZombieJobs, StartAfter: nextTick, CreatedBy: createdBy})
	return f.reaped, nil
}

func (f *fakeGateway) GetZones(ctx context.Context, cloud, region string) ([]store.Region, error) {
	return f.zones.GetZones(ctx, cloud, region)
}

func (f *fakeGateway) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := f.settings[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *fakeGateway) GetSecret(_ context.Context, key string) (string, error) {
	v, ok := f.secrets[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

// fakeRunner scripts playbook outcomes by name.
type runnerCall struct {
	playbook string
	vars     map[string]any
	start    int
}

type runnerResult struct {
	status string
	data   any
	err    error
}

type fakeRunner struct {
	calls   []runnerCall
	results map[string]runnerResult
}

func (f *fakeRunner) run(playbook string, vars map[string]any, start int) (string, any, int, error) {
	f.calls = append(f.calls, runnerCall{playbook: playbook, vars: vars, start: start})
	res, ok := f.results[playbook]
	if !ok {
		res = runnerResult{status: runner.StatusSuccessful}
	}
	return res.status, res.data, start + 1, res.err
}

func (f *fakeRunner) Run(_ context.Context, _ int64, playbook string, vars map[string]any, start int) (string, any, int, error) {
	return f.run(playbook, vars, start)
}

func (f *fakeRunner) RunStep(_ context.Context, _ int64, playbook string, vars map[string]any, start int) (string, any, int, error) {
	return f.run(playbook, vars, start)
}

type fakeProbe struct {
	calls   []runnerCall
	results map[string]runnerResult
}

func (f *fakeProbe) Run(_ context.Context, playbook string, vars map[string]any, files map[string]string) (string, any, error) {
	f.calls = append(f.calls, runnerCall{playbook: playbook, vars: vars})
	res, ok := f.results[playbook]
	if !ok {
		res = runnerResult{status: runner.StatusSuccessful}
	}
	return res.status, res.data, res.err
}

// inlineSpawner runs workers synchronously so tests observe final state.
type inlineSpawner struct{}

func (inlineSpawner) Go(fn func(ctx context.Context)) { fn(context.Background()) }

type fakeRenderer struct{}

func (fakeRenderer) Render(name string, data any) (string, error) { return "rendered " + name, nil }

func newTestHandlers(t *testing.T, gw *fakeGateway, r *fakeRunner, p *fakeProbe) *Handlers {
	t.Helper()
	if r == nil {
		r = &fakeRunner{}
	}
	if p == nil {
		p = &fakeProbe{}
	}
	h, err := New(Deps{
		Store:    gw,
		Runner:   r,
		Probe:    p,
		Spawn:    inlineSpawner{},
		Renderer: fakeRenderer{},
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func msgFor(t *testing.T, id int64, msgType string, payload any) store.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return store.Message{MsgID: id, MsgType: msgType, MsgData: string(data), CreatedBy: "alice"}
}

func extractedData(hosts ...[3]string) map[string]any {
	var dbHosts []map[string]any
	var lbHosts []map[string]any
	for _, h := range hosts {
		entry := map[string]any{"cloud": h[0], "region": h[1], "public_ip": h[2]}
		dbHosts = append(dbHosts, entry)
	}
	for _, h := range hosts {
		lbHosts = append(lbHosts, map[string]any{"cloud": h[0], "region": h[1], "public_ip": "lb-" + h[2]})
	}
	return map[string]any{"cockroachdb": dbHosts, "haproxy": lbHosts[:1]}
}

func TestRouteUnknownTypeIsDropped(t *testing.T) {
	gw := newFakeGateway()
	h := newTestHandlers(t, gw, nil, nil)

	msg := store.Message{MsgID: 1, MsgType: "DANCE_CLUSTER", MsgData: "{}"}
	if err := h.Route(context.Background(), msg); err != nil {
		t.Fatalf("unknown type should be dropped, got %v", err)
	}
	if len(gw.jobs) != 0 {
		t.Fatalf("unknown type touched jobs: %v", gw.jobs)
	}
}

func TestCreateClusterHappyPath(t *testing.T) {
	gw := newFakeGateway()
	r := &fakeRunner{results: map[string]runnerResult{
		store.MsgCreateCluster: {
			status: runner.StatusSuccessful,
			data:   extractedData([3]string{"aws", "us-east-1", "10.0.0.1"}, [3]string{"aws", "us-east-1", "10.0.0.2"}),
		},
	}}
	h := newTestHandlers(t, gw, r, nil)

	req := CreateRequest{
		Name: "orders", Group: "payments", Version: "v24.1.0",
		NodeCount: 3, NodeCPUs: 4, DiskSize: 100,
		Regions: []string{"aws:us-east-1"},
	}
	if err := h.Route(context.Background(), msgFor(t, 7, store.MsgCreateCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	cluster := gw.clusters["orders"]
	if cluster.Status != store.ClusterRunning {
		t.Fatalf("cluster status = %s, want RUNNING", cluster.Status)
	}
	inventory, err := cluster.Inventory()
	if err != nil || len(inventory) != 1 || len(inventory[0].Nodes) != 2 {
		t.Fatalf("inventory = %+v, err %v", inventory, err)
	}
	lbs, _ := cluster.LoadBalancers()
	if len(lbs) != 1 {
		t.Fatalf("lbs = %+v", lbs)
	}

	if len(r.calls) != 1 || r.calls[0].playbook != store.MsgCreateCluster {
		t.Fatalf("runner calls = %+v", r.calls)
	}
	if r.calls[0].start != 0 {
		t.Errorf("task counter started at %d, want 0", r.calls[0].start)
	}
	if gw.jobs[7] != store.JobCompleted {
		t.Fatalf("job status = %s, want COMPLETED", gw.jobs[7])
	}
	if r.calls[0].vars["deployment_id"] != "orders" {
		t.Errorf("deployment_id = %v", r.calls[0].vars["deployment_id"])
	}
	if _, ok := r.calls[0].vars["deployment"]; !ok {
		t.Error("deployment descriptor missing from extra vars")
	}
	if got := gw.links["orders"]; len(got) != 1 || got[0] != 7 {
		t.Errorf("job links = %v", got)
	}
}

func TestCreateClusterAlreadyExists(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = store.Cluster{ClusterID: "orders", Status: store.ClusterRunning}
	r := &fakeRunner{}
	h := newTestHandlers(t, gw, r, nil)

	req := CreateRequest{
		Name: "orders", Group: "payments", Version: "v24.1.0",
		NodeCount: 3, NodeCPUs: 4, DiskSize: 100,
		Regions: []string{"aws:us-east-1"},
	}
	if err := h.Route(context.Background(), msgFor(t, 8, store.MsgCreateCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if gw.jobs[8] != store.JobFailed {
		t.Fatalf("job status = %s, want FAILED", gw.jobs[8])
	}
	if len(r.calls) != 0 {
		t.Fatalf("runner invoked for duplicate create: %+v", r.calls)
	}
	if gw.clusters["orders"].Status != store.ClusterRunning {
		t.Fatalf("existing cluster was touched: %s", gw.clusters["orders"].Status)
	}
}

func TestCreateClusterEngineFailure(t *testing.T) {
	gw := newFakeGateway()
	r := &fakeRunner{results: map[string]runnerResult{
		store.MsgCreateCluster: {status: runner.StatusFailed},
	}}
	h := newTestHandlers(t, gw, r, nil)

	req := CreateRequest{
		Name: "orders", Group: "payments", Version: "v24.1.0",
		NodeCount: 3, NodeCPUs: 4, DiskSize: 100,
		Regions: []string{"aws:us-east-1"},
	}
	if err := h.Route(context.Background(), msgFor(t, 9, store.MsgCreateCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if gw.clusters["orders"].Status != store.ClusterFailed {
		t.Fatalf("cluster status = %s, want FAILED", gw.clusters["orders"].Status)
	}
}

func TestCreateInventoryParseFailureFailsJob(t *testing.T) {
	gw := newFakeGateway()
	// Engine reports success but never emits the extracted host data.
	r := &fakeRunner{results: map[string]runnerResult{
		store.MsgCreateCluster: {status: runner.StatusSuccessful, data: nil},
	}}
	h := newTestHandlers(t, gw, r, nil)

	req := CreateRequest{
		Name: "orders", Group: "payments", Version: "v24.1.0",
		NodeCount: 3, NodeCPUs: 4, DiskSize: 100,
		Regions: []string{"aws:us-east-1"},
	}
	if err := h.Route(context.Background(), msgFor(t, 14, store.MsgCreateCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if gw.jobs[14] != store.JobFailed {
		t.Fatalf("job status = %s, want FAILED", gw.jobs[14])
	}
	if gw.clusters["orders"].Status != store.ClusterFailed {
		t.Fatalf("cluster status = %s, want FAILED", gw.clusters["orders"].Status)
	}
	if len(gw.tasks[14]) != 1 || gw.tasks[14][0].TaskName != "ERROR" {
		t.Fatalf("want one explanatory ERROR task, got %v", gw.tasks[14])
	}
}

// reapingSpawner simulates the zombie reaper failing the job between the
// synchronous handler phase and the worker picking it up.
type reapingSpawner struct {
	gw    *fakeGateway
	jobID int64
}

func (s reapingSpawner) Go(fn func(ctx context.Context)) {
	s.gw.jobs[s.jobID] = store.JobFailed
	fn(context.Background())
}

func TestReapedJobIsNotResurrected(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = runningCluster([]store.InventoryRegion{
		{Cloud: "aws", Region: "us-east-1", Nodes: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}},
	})
	r := &fakeRunner{}
	h, err := New(Deps{
		Store:    gw,
		Runner:   r,
		Probe:    &fakeProbe{},
		Spawn:    reapingSpawner{gw: gw, jobID: 24},
		Renderer: fakeRenderer{},
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A no-op scale reaches the completion mark without any runner work.
	req := ScaleRequest{Name: "orders", NodeCount: 3, NodeCPUs: 4, DiskSize: 100, Regions: []string{"aws:us-east-1"}}
	if err := h.Route(context.Background(), msgFor(t, 24, store.MsgScaleCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if gw.jobs[24] != store.JobFailed {
		t.Fatalf("reaped job resurrected to %s", gw.jobs[24])
	}
	// The worker stood down, leaving the cluster for operator attention.
	if gw.clusters["orders"].Status != store.ClusterScaling {
		t.Fatalf("cluster status = %s, want SCALING", gw.clusters["orders"].Status)
	}
}

func TestDeleteDeletedClusterFailsJob(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = store.Cluster{ClusterID: "orders", Status: store.ClusterDeleted}
	r := &fakeRunner{}
	h := newTestHandlers(t, gw, r, nil)

	if err := h.Route(context.Background(), msgFor(t, 10, store.MsgDeleteCluster, DeleteRequest{Name: "orders"})); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if gw.jobs[10] != store.JobFailed {
		t.Fatalf("job status = %s, want FAILED", gw.jobs[10])
	}
	if len(gw.tasks[10]) != 1 {
		t.Fatalf("want one explanatory task, got %v", gw.tasks[10])
	}
	if len(r.calls) != 0 {
		t.Fatal("runner invoked despite precondition failure")
	}
}

func TestDeleteClusterSuccess(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = store.Cluster{ClusterID: "orders", Status: store.ClusterRunning}
	r := &fakeRunner{}
	h := newTestHandlers(t, gw, r, nil)

	if err := h.Route(context.Background(), msgFor(t, 11, store.MsgDeleteCluster, DeleteRequest{Name: "orders"})); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if gw.clusters["orders"].Status != store.ClusterDeleted {
		t.Fatalf("cluster status = %s, want DELETED", gw.clusters["orders"].Status)
	}
	if len(r.calls) != 1 || r.calls[0].playbook != store.MsgDeleteCluster {
		t.Fatalf("runner calls = %+v", r.calls)
	}
}

func TestUpgradePersistsVersionOnSuccess(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = store.Cluster{ClusterID: "orders", Status: store.ClusterRunning, Version: "v23.2.4"}
	r := &fakeRunner{}
	h := newTestHandlers(t, gw, r, nil)

	req := UpgradeRequest{Name: "orders", Version: "v24.1.0"}
	if err := h.Route(context.Background(), msgFor(t, 12, store.MsgUpgradeCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	cluster := gw.clusters["orders"]
	if cluster.Status != store.ClusterRunning || cluster.Version != "v24.1.0" {
		t.Fatalf("cluster = %s/%s, want RUNNING/v24.1.0", cluster.Status, cluster.Version)
	}
}

func TestUpgradeFailureKeepsVersion(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = store.Cluster{ClusterID: "orders", Status: store.ClusterRunning, Version: "v23.2.4"}
	r := &fakeRunner{results: map[string]runnerResult{
		store.MsgUpgradeCluster: {status: runner.StatusFailed},
	}}
	h := newTestHandlers(t, gw, r, nil)

	req := UpgradeRequest{Name: "orders", Version: "v24.1.0"}
	if err := h.Route(context.Background(), msgFor(t, 13, store.MsgUpgradeCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	cluster := gw.clusters["orders"]
	if cluster.Status != store.ClusterUpgradeFailed {
		t.Fatalf("cluster status = %s, want UPGRADE_FAILED", cluster.Status)
	}
	if cluster.Version != "v23.2.4" {
		t.Fatalf("version changed on failed upgrade: %s", cluster.Version)
	}
}

func runningCluster(inventory []store.InventoryRegion) store.Cluster {
	raw, _ := json.Marshal(inventory)
	return store.Cluster{
		ClusterID: "orders",
		Group:     "payments",
		Status:    store.ClusterRunning,
		Version:   "v24.1.0",
		NodeCount: 3, NodeCPUs: 4, DiskSize: 100,
		ClusterInventory: raw,
	}
}

func TestScaleNoOpCompletes(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = runningCluster([]store.InventoryRegion{
		{Cloud: "aws", Region: "us-east-1", Nodes: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}},
	})
	r := &fakeRunner{}
	h := newTestHandlers(t, gw, r, nil)

	req := ScaleRequest{Name: "orders", NodeCount: 3, NodeCPUs: 4, DiskSize: 100, Regions: []string{"aws:us-east-1"}}
	if err := h.Route(context.Background(), msgFor(t, 20, store.MsgScaleCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if len(r.calls) != 0 {
		t.Fatalf("no-op scale invoked the runner: %+v", r.calls)
	}
	if gw.jobs[20] != store.JobCompleted {
		t.Fatalf("job status = %s, want COMPLETED", gw.jobs[20])
	}
	if gw.clusters["orders"].Status != store.ClusterRunning {
		t.Fatalf("cluster status = %s, want RUNNING", gw.clusters["orders"].Status)
	}
}

func TestScaleRunsSubOperationsInOrder(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = runningCluster([]store.InventoryRegion{
		{Cloud: "aws", Region: "us-east-1", Nodes: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}},
	})
	scaleOutData := extractedData(
		[3]string{"aws", "us-east-1", "10.0.0.1"},
		[3]string{"aws", "us-east-1", "10.0.0.2"},
		[3]string{"aws", "us-east-1", "10.0.0.3"},
		[3]string{"aws", "us-east-1", "10.0.0.4"},
		[3]string{"aws", "us-east-1", "10.0.0.5"},
		[3]string{"gcp", "eu-west1", "10.1.0.1"},
	)
	r := &fakeRunner{results: map[string]runnerResult{
		store.PlaybookScaleClusterOut: {status: runner.StatusSuccessful, data: scaleOutData},
	}}
	h := newTestHandlers(t, gw, r, nil)

	// Bigger disk, more cpus, more nodes, one new region.
	req := ScaleRequest{Name: "orders", NodeCount: 5, NodeCPUs: 8, DiskSize: 200, Regions: []string{"aws:us-east-1", "gcp:eu-west1"}}
	if err := h.Route(context.Background(), msgFor(t, 21, store.MsgScaleCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	var order []string
	for _, c := range r.calls {
		order = append(order, c.playbook)
	}
	want := []string{
		store.PlaybookScaleDiskSize,
		store.PlaybookScaleNodeCPUs,
		store.PlaybookScaleClusterOut,
		store.PlaybookScaleClusterOut,
	}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("sub-operation order = %v, want %v", order, want)
	}

	// Task counter starts at zero and threads through the sub-runs.
	for i, c := range r.calls {
		if c.start != i {
			t.Errorf("call %d started at task %d, want %d", i, c.start, i)
		}
	}

	cluster := gw.clusters["orders"]
	if cluster.Status != store.ClusterRunning {
		t.Fatalf("cluster status = %s, want RUNNING", cluster.Status)
	}
	if cluster.NodeCount != 5 || cluster.NodeCPUs != 8 || cluster.DiskSize != 200 {
		t.Fatalf("cluster shape = %d/%d/%d", cluster.NodeCount, cluster.NodeCPUs, cluster.DiskSize)
	}
	if gw.jobs[21] != store.JobCompleted {
		t.Fatalf("job status = %s, want COMPLETED", gw.jobs[21])
	}
}

func TestScaleShortCircuitsOnFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = runningCluster([]store.InventoryRegion{
		{Cloud: "aws", Region: "us-east-1", Nodes: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}},
	})
	r := &fakeRunner{results: map[string]runnerResult{
		store.PlaybookScaleDiskSize: {status: runner.StatusFailed},
	}}
	h := newTestHandlers(t, gw, r, nil)

	req := ScaleRequest{Name: "orders", NodeCount: 5, NodeCPUs: 8, DiskSize: 200, Regions: []string{"aws:us-east-1"}}
	if err := h.Route(context.Background(), msgFor(t, 22, store.MsgScaleCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if len(r.calls) != 1 {
		t.Fatalf("expected short-circuit after first failure, got %d calls", len(r.calls))
	}
	if gw.clusters["orders"].Status != store.ClusterScaleFailed {
		t.Fatalf("cluster status = %s, want SCALE_FAILED", gw.clusters["orders"].Status)
	}
	if gw.clusters["orders"].DiskSize != 100 {
		t.Fatalf("disk size persisted despite failure: %d", gw.clusters["orders"].DiskSize)
	}
}

func TestScaleRequiresRunningCluster(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = store.Cluster{ClusterID: "orders", Status: store.ClusterUnhealthy}
	r := &fakeRunner{}
	h := newTestHandlers(t, gw, r, nil)

	req := ScaleRequest{Name: "orders", NodeCount: 3, NodeCPUs: 4, DiskSize: 100, Regions: []string{"aws:us-east-1"}}
	if err := h.Route(context.Background(), msgFor(t, 23, store.MsgScaleCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if gw.jobs[23] != store.JobFailed {
		t.Fatalf("job status = %s, want FAILED", gw.jobs[23])
	}
}

func TestRestoreMissingBackupFailsBeforeTransition(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = runningCluster(nil)
	r := &fakeRunner{}
	h, err := New(Deps{
		Store:    gw,
		Runner:   r,
		Probe:    &fakeProbe{},
		Backups:  failingBackups{},
		Spawn:    inlineSpawner{},
		Renderer: fakeRenderer{},
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := RestoreRequest{Name: "orders", BackupPath: "nightly/2026-08-27"}
	if err := h.Route(context.Background(), msgFor(t, 30, store.MsgRestoreCluster, req)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if gw.jobs[30] != store.JobFailed {
		t.Fatalf("job status = %s, want FAILED", gw.jobs[30])
	}
	if gw.clusters["orders"].Status != store.ClusterRunning {
		t.Fatalf("cluster left RUNNING for a bad backup path: %s", gw.clusters["orders"].Status)
	}
	if len(r.calls) != 0 {
		t.Fatal("runner invoked despite missing backup")
	}
}

type failingBackups struct{}

func (failingBackups) HeadObject(context.Context, string, string) error {
	return fmt.Errorf("object not found")
}

func TestHealthcheckDemotesDeadCluster(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = runningCluster([]store.InventoryRegion{
		{Cloud: "aws", Region: "us-east-1", Nodes: []string{"10.0.0.1"}},
	})
	gw.secrets["ssh_key_payments"] = "PRIVATE KEY"
	p := &fakeProbe{results: map[string]runnerResult{
		store.MsgHealthcheckClusters: {
			status: runner.StatusSuccessful,
			data:   []map[string]any{{"address": "10.0.0.1", "is_live": "false"}},
		},
	}}
	h := newTestHandlers(t, gw, nil, p)

	if err := h.Route(context.Background(), msgFor(t, 40, store.MsgHealthcheckClusters, struct{}{})); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if gw.clusters["orders"].Status != store.ClusterUnhealthy {
		t.Fatalf("cluster status = %s, want UNHEALTHY", gw.clusters["orders"].Status)
	}
	if gw.jobs[40] != store.JobCompleted {
		t.Fatalf("job status = %s, want COMPLETED", gw.jobs[40])
	}

	// Next sweep is scheduled before the probes run.
	var reenqueued bool
	for _, m := range gw.enqueued {
		if m.MsgType == store.MsgHealthcheckClusters && time.Until(m.StartAfter) > 40*time.Second {
			reenqueued = true
		}
	}
	if !reenqueued {
		t.Fatalf("no delayed healthcheck re-enqueued: %+v", gw.enqueued)
	}
}

func TestHealthcheckLeavesLiveClusterAlone(t *testing.T) {
	gw := newFakeGateway()
	gw.clusters["orders"] = runningCluster([]store.InventoryRegion{
		{Cloud: "aws", Region: "us-east-1", Nodes: []string{"10.0.0.1"}},
	})
	gw.secrets["ssh_key_payments"] = "PRIVATE KEY"
	p := &fakeProbe{results: map[string]runnerResult{
		store.MsgHealthcheckClusters: {
			status: runner.StatusSuccessful,
			data:   []map[string]any{{"address": "10.0.0.1", "is_live": "true"}},
		},
	}}
	h := newTestHandlers(t, gw, nil, p)

	if err := h.Route(context.Background(), msgFor(t, 41, store.MsgHealthcheckClusters, struct{}{})); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if gw.clusters["orders"].Status != store.ClusterRunning {
		t.Fatalf("healthy cluster demoted: %s", gw.clusters["orders"].Status)
	}
	if len(p.calls) != 1 {
		t.Fatalf("probe calls = %d, want 1", len(p.calls))
	}
	if _, ok := p.calls[0].vars["deployment_id"]; !ok {
		t.Error("probe missing deployment_id")
	}
}

func TestHealthcheckHeartbeatsBetweenProbes(t *testing.T) {
	gw := newFakeGateway()
	inv := []store.InventoryRegion{{Cloud: "aws", Region: "us-east-1", Nodes: []string{"10.0.0.1"}}}
	for _, name := range []string{"orders", "billing"} {
		c := runningCluster(inv)
		c.ClusterID = name
		gw.clusters[name] = c
	}
	gw.secrets["ssh_key_payments"] = "PRIVATE KEY"
	h := newTestHandlers(t, gw, nil, &fakeProbe{})

	if err := h.Route(context.Background(), msgFor(t, 42, store.MsgHealthcheckClusters, struct{}{})); err != nil {
		t.Fatalf("Route: %v", err)
	}

	// One heartbeat per probed cluster keeps a long sweep off the reaper's
	// zombie list.
	if gw.beats[42] != 2 {
		t.Fatalf("heartbeats = %d, want 2", gw.beats[42])
	}
	if gw.jobs[42] != store.JobCompleted {
		t.Fatalf("job status = %s, want COMPLETED", gw.jobs[42])
	}
}

func TestReaperCompletesAndReschedules(t *testing.T) {
	gw := newFakeGateway()
	gw.reaped = []int64{3, 5}
	h := newTestHandlers(t, gw, nil, nil)

	if err := h.Route(context.Background(), msgFor(t, 50, store.MsgFailZombieJobs, struct{}{})); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if gw.jobs[50] != store.JobCompleted {
		t.Fatalf("reaper job status = %s, want COMPLETED", gw.jobs[50])
	}
	var rescheduled bool
	for _, m := range gw.enqueued {
		if m.MsgType == store.MsgFailZombieJobs {
			rescheduled = true
		}
	}
	if !rescheduled {
		t.Fatal("next reaper tick not enqueued")
	}
}

func TestAllNodesLive(t *testing.T) {
	tests := []struct {
		name string
		data any
		want bool
	}{
		{name: "all live bool", data: []map[string]any{{"is_live": true}, {"is_live": true}}, want: true},
		{name: "all live string", data: []map[string]any{{"is_live": "true"}}, want: true},
		{name: "one dead", data: []map[string]any{{"is_live": true}, {"is_live": false}}, want: false},
		{name: "dead string", data: []map[string]any{{"is_live": "false"}}, want: false},
		{name: "missing field", data: []map[string]any{{"address": "10.0.0.1"}}, want: false},
		{name: "empty", data: []map[string]any{}, want: false},
		{name: "nil", data: nil, want: false},
		{name: "not a list", data: map[string]any{"is_live": true}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := allNodesLive(tt.data); got != tt.want {
				t.Fatalf("allNodesLive(%v) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}
