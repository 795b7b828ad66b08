// Package main is the engine's CLI entry point: it loads a blueprint
// document and a movie's canonical inputs from JSON, expands the graph,
// plans against the movie's prior manifest, and dispatches the resulting
// layers.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/scenegraph/pipeline/pkg/blobstore"
	"github.com/scenegraph/pipeline/pkg/blueprint"
	"github.com/scenegraph/pipeline/pkg/dispatcher"
	"github.com/scenegraph/pipeline/pkg/eventlog"
	"github.com/scenegraph/pipeline/pkg/expander"
	"github.com/scenegraph/pipeline/pkg/manifest"
	"github.com/scenegraph/pipeline/pkg/planner"
	"github.com/scenegraph/pipeline/pkg/produce"
	"github.com/scenegraph/pipeline/pkg/registry"
	"github.com/scenegraph/pipeline/pkg/schemas"
)

var (
	movieID       = flag.String("movie-id", "", "Movie identifier (required)")
	blueprintPath = flag.String("blueprint", "", "Path to the blueprint document (JSON, required)")
	inputsPath    = flag.String("inputs", "", "Path to the canonical input map (JSON); omit for no user-supplied inputs")
	movieRoot     = flag.String("movie-root", getEnv("MOVIE_ROOT", "./movies"), "Root directory movies are stored under")
	concurrency   = flag.Int("concurrency", getEnvInt("CONCURRENCY", 4), "Max jobs running concurrently within a layer")
	simulated     = flag.Bool("simulated", getEnvBool("SIMULATED", true), "Use the in-process simulated producer rather than a live provider")
	reRunFrom     = flag.Int("rerun-from", -1, "Re-run every layer from this index onward (-1 disables)")
	upToLayer     = flag.Int("upto-layer", -1, "Stop planning after this layer index (-1 disables)")
	registryDB    = flag.String("registry-db", getEnv("REGISTRY_DB", ""), "Path to a sqlite registry database; empty uses an in-memory registry")
	redisAddr     = flag.String("redis-addr", getEnv("REDIS_ADDR", ""), "Optional Redis address backing the blob existence cache")
)

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func main() {
	flag.Parse()

	if *movieID == "" {
		log.Fatal("-movie-id is required")
	}
	if *blueprintPath == "" {
		log.Fatal("-blueprint is required")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	tracerProvider, tracerShutdown, err := setupTracing()
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}
	defer tracerShutdown(ctx)
	tracer := tracerProvider.Tracer("engine")

	if !*simulated {
		logger.Warn("live producer mode requested but no LiveDispatch is wired; falling back to simulated output")
	}

	doc, err := loadBlueprintDoc(*blueprintPath)
	if err != nil {
		logger.Fatal("failed to load blueprint", zap.Error(err))
	}
	tree := buildTree(doc)

	inputs, err := loadInputs(*inputsPath)
	if err != nil {
		logger.Fatal("failed to load inputs", zap.Error(err))
	}

	jobs, _, err := expander.Expand(tree, inputs)
	if err != nil {
		logger.Fatal("graph expansion failed", zap.Error(err))
	}

	movieDir := filepath.Join(*movieRoot, *movieID)
	if err := manifest.InitializeMovieStorage(movieDir); err != nil {
		logger.Fatal("failed to initialize movie storage", zap.Error(err))
	}

	manifestSvc := manifest.New(movieDir)
	snapshot, err := manifestSvc.LoadCurrent()
	if err != nil {
		logger.Fatal("failed to load current manifest", zap.Error(err))
	}
	if snapshot.InProgress {
		logger.Warn("prior run did not complete; rebuilding manifest from events before planning", zap.String("movieId", *movieID))
		rebuilt, err := manifest.RebuildFromEvents(movieDir)
		if err != nil {
			logger.Fatal("failed to rebuild manifest from events", zap.Error(err))
		}
		snapshot.Manifest = &rebuilt
	}

	eventLog := eventlog.New(filepath.Join(movieDir, "events"))
	pendingDigests, err := recordInputs(eventLog, inputs, snapshot.Manifest)
	if err != nil {
		logger.Fatal("failed to record inputs", zap.Error(err))
	}

	var planOpts planner.Options
	if *reRunFrom >= 0 {
		planOpts.ReRunFrom = reRunFrom
	}
	if *upToLayer >= 0 {
		planOpts.UpToLayer = upToLayer
	}

	plan, err := planner.Plan(jobs, snapshot.Manifest, pendingDigests, planOpts)
	if err != nil {
		logger.Fatal("planning failed", zap.Error(err))
	}

	blobs := blobstore.New(filepath.Join(movieDir, "blobs"))
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		blobs = blobs.WithCache(blobstore.NewRedisCache(client, 24*time.Hour))
		logger.Info("blob existence cache backed by redis", zap.String("addr", *redisAddr))
	}

	reg, closeRegistry, err := setupRegistry(*registryDB)
	if err != nil {
		logger.Fatal("failed to set up registry", zap.Error(err))
	}
	defer closeRegistry()

	runCtx := dispatcher.RunContext{
		MovieID:          *movieID,
		ManifestBaseHash: snapshot.Hash,
		Blobs:            blobs,
		Log:              eventLog,
		Manifest:         manifestSvc,
		Producer:         produce.New(nil),
		StorageRoot:      *movieRoot,
		StorageBasePath:  *movieID,
	}

	d := dispatcher.New(logger, tracer)
	result, execErr := d.Execute(ctx, runCtx, plan, dispatcher.Options{
		Concurrency: *concurrency,
		OnProgress: func(e dispatcher.Event) {
			logger.Debug("progress", zap.String("type", e.Type), zap.Int("layer", e.LayerIndex), zap.String("job", e.JobID))
		},
	})
	if execErr != nil {
		logger.Error("execution failed", zap.Error(execErr))
	}

	if result.RunID != "" {
		if err := reg.RecordRun(ctx, *movieID, result.RunID, result.Manifest.Revision, registry.RunStatus(result.Status), result.FailureReason); err != nil {
			logger.Warn("failed to record run in registry", zap.Error(err))
		}
	}

	logger.Info("run finished", zap.String("status", result.Status), zap.String("revision", result.Manifest.Revision))
	if execErr != nil || result.Status != "succeeded" {
		os.Exit(1)
	}
}

func setupTracing() (*sdktrace.TracerProvider, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("building stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return tp, tp.Shutdown, nil
}

func setupRegistry(dbPath string) (registry.Registry, func(), error) {
	if dbPath == "" {
		r := registry.NewMemoryRegistry()
		return r, func() { _ = r.Close() }, nil
	}
	r, err := registry.NewSQLiteRegistry(dbPath)
	if err != nil {
		return nil, func() {}, fmt.Errorf("opening sqlite registry: %w", err)
	}
	return r, func() { _ = r.Close() }, nil
}

// blueprintDoc is the JSON-decodable shape of a blueprint document: a
// recursive tree mirroring blueprint.Node, with children keyed by local
// alias. Parsing this (rather than the YAML the spec's input format
// describes) is boundary code the core graph types never see.
type blueprintDoc struct {
	Inputs      []blueprint.Input        `json:"inputs"`
	Artifacts   []blueprint.ArtifactDecl `json:"artifacts"`
	Loops       []blueprint.Loop         `json:"loops"`
	Producers   []blueprint.Producer     `json:"producers"`
	Connections []blueprint.Connection   `json:"connections"`
	Children    map[string]blueprintDoc  `json:"children"`
}

func loadBlueprintDoc(path string) (blueprintDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return blueprintDoc{}, fmt.Errorf("reading blueprint document: %w", err)
	}
	var doc blueprintDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return blueprintDoc{}, fmt.Errorf("parsing blueprint document: %w", err)
	}
	return doc, nil
}

func buildTree(doc blueprintDoc) *blueprint.Tree {
	tree := blueprint.NewTree()
	populateNode(tree, tree.Root(), doc)
	return tree
}

func populateNode(tree *blueprint.Tree, idx blueprint.NodeIndex, doc blueprintDoc) {
	node := tree.At(idx)
	node.Inputs = doc.Inputs
	node.Artifacts = doc.Artifacts
	node.Loops = doc.Loops
	node.Producers = doc.Producers
	node.Connections = doc.Connections
	for alias, child := range doc.Children {
		populateNode(tree, tree.AddChild(idx, alias), child)
	}
}

func loadInputs(path string) (expander.Inputs, error) {
	if path == "" {
		return expander.Inputs{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inputs file: %w", err)
	}
	var inputs expander.Inputs
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return nil, fmt.Errorf("parsing inputs file: %w", err)
	}
	return inputs, nil
}

// recordInputs appends an InputEvent for every input whose payload digest
// differs from what the prior manifest recorded (or every input, on a
// movie's first run), returning the full canonical-ID -> digest map the
// planner needs to diff against.
func recordInputs(log *eventlog.Log, inputs expander.Inputs, prior *schemas.Manifest) (map[string]string, error) {
	digests := make(map[string]string, len(inputs))
	now := time.Now().UTC()

	for id, value := range inputs {
		canonical, err := manifest.CanonicalJSON(value)
		if err != nil {
			return nil, fmt.Errorf("canonicalizing input %s: %w", id, err)
		}
		sum := sha256.Sum256(canonical)
		digest := hex.EncodeToString(sum[:])
		digests[id] = digest

		if prior != nil {
			if existing, ok := prior.Inputs[id]; ok && existing.PayloadDigest == digest {
				continue
			}
		}

		if err := log.AppendInput(schemas.InputEvent{
			ID:            id,
			Payload:       value,
			PayloadDigest: digest,
			CreatedAt:     now,
		}); err != nil {
			return nil, fmt.Errorf("appending input event for %s: %w", id, err)
		}
	}

	return digests, nil
}
