// onestored is the boot entrypoint wiring the object store, the
// versioned-object layer, the event dispatcher, and the RPC transport
// into a single running service.
//
// Grounded on main.go's own boot sequence (banner, storage.Init,
// storage.LoadJSON, scm.Repl()), replacing the Scheme REPL with an HTTP/
// websocket RPC listener, and on mattcburns-shoal-provision/build.go's
// flag-driven single-binary configuration.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/refinio/one-core/conc"
	"github.com/refinio/one-core/dispatch"
	"github.com/refinio/one-core/internal/obslog"
	"github.com/refinio/one-core/microdata"
	"github.com/refinio/one-core/objectstore"
	"github.com/refinio/one-core/recipe"
	"github.com/refinio/one-core/rpc"
	"github.com/refinio/one-core/versioned"
)

// RPC service method codes exposed over every connection.
const (
	methodRegisterRecipe         = 1
	methodStoreVersionedObject   = 2
	methodGetCurrentVersion      = 3
	methodStoreUnversionedObject = 4
	methodGetIDObject            = 5
)

func main() {
	fmt.Println("onestored: content-addressed object store + versioned-object layer + RPC")

	baseDir := flag.String("baseDir", "./data", "root directory for the object store")
	instanceIDHash := flag.String("instanceIdHash", "local", "instance identifier (subdirectory under baseDir)")
	wipeStorage := flag.Bool("wipeStorage", false, "wipe any existing store at baseDir/<instanceIdHash> before opening")
	nHashChars := flag.Int("nHashCharsForSubDirs", 2, "number of leading hash characters used for shard subdirectories (0-4)")
	encryptStorage := flag.Bool("encryptStorage", false, "encrypt the private area with -privatePassphrase")
	privatePassphrase := flag.String("privatePassphrase", "", "passphrase for the encrypted private area (required if -encryptStorage)")
	enabledReverseMapTypes := flag.String("initiallyEnabledReverseMapTypes", "", "comma-separated referrer type names to populate reverse maps for (empty = all)")
	listenAddr := flag.String("listen", ":8420", "HTTP/websocket listen address")
	chunkSize := flag.Int("chunkSize", 65536, "RPC fragmentation chunk size in bytes")
	mirrorS3Bucket := flag.String("mirrorS3Bucket", "", "if set, mirror every newly created object to this S3-compatible bucket")
	mirrorS3Endpoint := flag.String("mirrorS3Endpoint", "", "custom S3 endpoint (empty = AWS default)")
	mirrorS3Region := flag.String("mirrorS3Region", "us-east-1", "S3 region")
	flag.Parse()

	log := obslog.Default

	if *wipeStorage {
		if err := os.RemoveAll(*baseDir + "/" + *instanceIDHash); err != nil {
			log.Error("wipeStorage: %v", err)
			os.Exit(1)
		}
	}

	store, err := objectstore.Open(objectstore.Config{
		BaseDir:              *baseDir,
		InstanceIDHash:       *instanceIDHash,
		WipeStorage:          *wipeStorage,
		NHashCharsForSubDirs: *nHashChars,
	})
	if err != nil {
		log.Error("open store: %v", err)
		os.Exit(1)
	}
	log.Info("store opened at %s", store.Root())

	var privateArea *objectstore.PrivateArea
	if *encryptStorage {
		if *privatePassphrase == "" {
			log.Error("encryptStorage requires -privatePassphrase")
			os.Exit(1)
		}
		privateArea = objectstore.NewPrivateArea(store, *privatePassphrase)
	}
	_ = privateArea // reserved for private-area RPC methods as the surface grows

	reg := recipe.NewRegistry()

	var layerOpts []versioned.Option
	if *enabledReverseMapTypes != "" {
		layerOpts = append(layerOpts, versioned.WithEnabledReverseMapTypes(strings.Split(*enabledReverseMapTypes, ",")...))
	}
	layerOpts = append(layerOpts, versioned.WithIndex())
	layer := versioned.New(store, reg, layerOpts...)

	metricsRegisterer := prometheus.DefaultRegisterer
	d := dispatch.New(dispatch.Config{
		EnableEnqueueFiltering: true,
		MetricsRegisterer:      metricsRegisterer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var backend objectstore.Backend
	if *mirrorS3Bucket != "" {
		backend = &objectstore.S3Backend{
			Bucket:   *mirrorS3Bucket,
			Endpoint: *mirrorS3Endpoint,
			Region:   *mirrorS3Region,
		}
		startMirrorWatch(ctx, store, backend, log)
	}

	onEvent := func(ev versioned.Event) {
		if err := d.Publish(ev); err != nil {
			log.Warn("publish event for %s: %v", ev.TypeName, err)
		}
	}

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		transport, err := rpc.UpgradeTransport(w, r)
		if err != nil {
			log.Warn("websocket upgrade: %v", err)
			return
		}
		frames := rpc.NewFragmenter(transport, *chunkSize)
		// nil registerer: each connection gets its own Promisifier, and
		// prometheus.Registerer.MustRegister panics on a duplicate name.
		p := rpc.NewPromisifier(frames, nil)
		registerServices(p, reg, layer, onEvent)
		log.Info("accepted RPC connection from %s", r.RemoteAddr)
	})
	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: *listenAddr}
	go func() {
		log.Info("listening on %s", *listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("serve: %v", err)
		}
	}()

	waitForShutdown()
	log.Info("shutting down")
	_ = server.Shutdown(context.Background())
	d.Shutdown()
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

// startMirrorWatch observes newly created objects and retries mirroring
// each one to backend with exponential backoff (spec §4.F retry, wired to
// objectstore's fsnotify-based Watch).
func startMirrorWatch(ctx context.Context, store *objectstore.Store, backend objectstore.Backend, log *obslog.Logger) {
	watch, err := store.WatchObjects()
	if err != nil {
		log.Warn("start object watch: %v", err)
		return
	}
	go func() {
		for {
			select {
			case hash, ok := <-watch.Events():
				if !ok {
					return
				}
				err := conc.Retry(ctx, func() error {
					return store.MirrorTo(ctx, backend, hash)
				}, conc.RetryOptions{Retries: 5})
				if err != nil {
					log.Warn("mirror %s: %v", hash, err)
				}
			case err := <-watch.Errors():
				log.Warn("object watch: %v", err)
			case <-ctx.Done():
				watch.Close()
				return
			}
		}
	}()
}

func registerServices(p *rpc.Promisifier, reg *recipe.Registry, layer *versioned.Layer, onEvent func(versioned.Event)) {
	p.AddService(methodRegisterRecipe, func(args json.RawMessage) (any, error) {
		var rec recipe.Recipe
		if err := json.Unmarshal(args, &rec); err != nil {
			return nil, err
		}
		if err := reg.Register(&rec); err != nil {
			return nil, err
		}
		return "ok", nil
	})

	p.AddService(methodStoreVersionedObject, func(args json.RawMessage) (any, error) {
		var req struct {
			Line              string `json:"line"`
			ParentVersionHash string `json:"parentVersionHash"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		obj, _, err := microdata.Decode(req.Line, reg)
		if err != nil {
			return nil, err
		}
		idHash, hash, err := layer.StoreVersionedObject(obj, req.ParentVersionHash, onEvent)
		if err != nil {
			return nil, err
		}
		return struct {
			IDHash string `json:"idHash"`
			Hash   string `json:"hash"`
		}{idHash, hash}, nil
	})

	p.AddService(methodStoreUnversionedObject, func(args json.RawMessage) (any, error) {
		var req struct {
			Line string `json:"line"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		obj, _, err := microdata.Decode(req.Line, reg)
		if err != nil {
			return nil, err
		}
		hash, err := layer.StoreUnversionedObject(obj, onEvent)
		if err != nil {
			return nil, err
		}
		return struct {
			Hash string `json:"hash"`
		}{hash}, nil
	})

	p.AddService(methodGetCurrentVersion, func(args json.RawMessage) (any, error) {
		var req struct {
			IDHash string `json:"idHash"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		obj, err := layer.GetCurrentVersion(req.IDHash)
		if err != nil {
			return nil, err
		}
		line, err := microdata.Encode(obj, reg, false)
		if err != nil {
			return nil, err
		}
		return struct {
			Line string `json:"line"`
		}{line}, nil
	})

	p.AddService(methodGetIDObject, func(args json.RawMessage) (any, error) {
		var req struct {
			IDHash string `json:"idHash"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		obj, err := layer.GetIDObject(req.IDHash)
		if err != nil {
			return nil, err
		}
		line, err := microdata.Encode(obj, reg, true)
		if err != nil {
			return nil, err
		}
		return struct {
			Line string `json:"line"`
		}{line}, nil
	})
}
