// Package indexer wires the crawler, fetcher, vision analyzer, caption
// builder, and persister into the worker-pool topology: bounded queues
// between long-lived pools, with the progress tracker updated as work
// moves through each stage (§4.9, §5).
package indexer

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"

	"imagesearch/internal/caption"
	"imagesearch/internal/crawler"
	"imagesearch/internal/errlog"
	"imagesearch/internal/fetch"
	"imagesearch/internal/ids"
	"imagesearch/internal/model"
	"imagesearch/internal/progress"
	"imagesearch/internal/store"
	"imagesearch/internal/vision"
)

// Pool sizes and queue depths from the documented scheduling topology.
const (
	fetcherWorkers  = 8
	fetcherQueue    = 64
	visionQueue     = 64
	embedWorkers    = 2
	embedQueue      = 32
	persisterWorkers = 2
	crawlerQueue    = 256
)

func visionWorkers() int {
	if n := runtime.NumCPU(); n < 4 {
		return n
	}
	return 4
}

// Indexer orchestrates one full indexing run over a source root.
type Indexer struct {
	crawler  *crawler.Crawler
	fetcher  *fetch.Fetcher
	analyzer *vision.Analyzer
	embedder caption.Embedder
	store    *store.Store
	tracker  *progress.Tracker
}

// New builds an Indexer from its already-constructed collaborators.
func New(c *crawler.Crawler, f *fetch.Fetcher, a *vision.Analyzer, e caption.Embedder, s *store.Store, t *progress.Tracker) *Indexer {
	return &Indexer{crawler: c, fetcher: f, analyzer: a, embedder: e, store: s, tracker: t}
}

type visionOutcome struct {
	item   crawler.WorkItem
	raster fetch.Raster
	result vision.Result
}

// Run drives one crawl-fetch-analyze-caption-persist pass over rootID.
// It blocks until every stage has drained and returns the first fatal
// error encountered, if any; per-item failures are recorded on the
// progress tracker and otherwise do not abort the run.
func (ix *Indexer) Run(ctx context.Context, rootID string, totalHint int) error {
	ix.tracker.Start(totalHint)
	defer ix.tracker.Stop()

	workCh := make(chan crawler.WorkItem, crawlerQueue)
	rasterCh := make(chan fetch.Raster, fetcherQueue)
	visionCh := make(chan visionOutcome, visionQueue)
	captionCh := make(chan persistJob, embedQueue)

	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex
	recordErr := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ix.crawler.Run(ctx, rootID, workCh); err != nil {
			recordErr(fmt.Errorf("crawl: %w", err))
		}
	}()

	var fetchWG sync.WaitGroup
	fetchWG.Add(fetcherWorkers)
	for i := 0; i < fetcherWorkers; i++ {
		go func() {
			defer fetchWG.Done()
			for item := range workCh {
				ix.tracker.SetCurrentFile(item.Name)
				raster, err := ix.fetcher.Fetch(ctx, item)
				if err != nil {
					errlog.Logf("indexer: fetch %s failed: %v", item.ExternalID, err)
					ix.tracker.AddError(fmt.Sprintf("%s: %v", item.Name, err))
					ix.tracker.IncrementProcessed()
					continue
				}
				rasterCh <- raster
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fetchWG.Wait()
		close(rasterCh)
	}()

	var visionWG sync.WaitGroup
	nVisionWorkers := visionWorkers()
	visionWG.Add(nVisionWorkers)
	for i := 0; i < nVisionWorkers; i++ {
		go func() {
			defer visionWG.Done()
			for raster := range rasterCh {
				if raster.NearDuplicateOf != "" {
					log.Printf("[Index] %s is a near-duplicate of %s; indexing it anyway", raster.Item.ExternalID, raster.NearDuplicateOf)
				}
				result := ix.analyzer.Analyze(ctx, raster.Image, raster.RawBytes, ids.New)
				visionCh <- visionOutcome{item: raster.Item, raster: raster, result: result}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		visionWG.Wait()
		close(visionCh)
	}()

	var embedWG sync.WaitGroup
	embedWG.Add(embedWorkers)
	for i := 0; i < embedWorkers; i++ {
		go func() {
			defer embedWG.Done()
			for outcome := range visionCh {
				job := buildPersistJob(ctx, ix.embedder, outcome)
				captionCh <- job
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		embedWG.Wait()
		close(captionCh)
	}()

	var persistWG sync.WaitGroup
	persistWG.Add(persisterWorkers)
	for i := 0; i < persisterWorkers; i++ {
		go func() {
			defer persistWG.Done()
			for job := range captionCh {
				err := ix.store.UpsertImage(ctx, job.image, job.objects, job.rooms, job.caption, job.tags)
				if err != nil {
					errlog.Logf("indexer: persist %s failed: %v", job.image.ExternalID, err)
					ix.tracker.AddError(fmt.Sprintf("%s: %v", job.image.FileName, err))
				}
				ix.tracker.IncrementProcessed()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		persistWG.Wait()
	}()

	wg.Wait()
	return firstErr
}

type persistJob struct {
	image   model.Image
	objects []model.Object
	rooms   []model.RoomScore
	caption model.Caption
	tags    []model.Tag
}

// buildPersistJob turns one vision outcome into the five-entity write the
// store expects, rendering the caption and building the denormalized
// search tags (room:, obj:, col:, mat:, style:).
func buildPersistJob(ctx context.Context, embedder caption.Embedder, outcome visionOutcome) persistJob {
	imgID := ids.New()
	for i := range outcome.result.Objects {
		outcome.result.Objects[i].ImageID = imgID
	}
	for i := range outcome.result.RoomScores {
		outcome.result.RoomScores[i].ImageID = imgID
	}

	img := model.Image{
		ID:              imgID,
		ExternalID:      outcome.item.ExternalID,
		FileName:        outcome.item.Name,
		FolderPath:      outcome.item.Path,
		Width:           outcome.raster.OriginalW,
		Height:          outcome.raster.OriginalH,
		Phash:           outcome.raster.Phash,
		Room:            outcome.result.Room,
		RoomConf:        outcome.result.RoomConfidence,
		AnalysisPartial: outcome.result.AnalysisPartial,
		IndexedAt:       store.Now(),
	}

	builtCaption := caption.Build(ctx, embedder, img.Room, outcome.result.Objects, img.StyleTags, img.AnalysisPartial)
	builtCaption.ImageID = imgID

	tags := buildTags(img, outcome.result.Objects)

	return persistJob{
		image:   img,
		objects: outcome.result.Objects,
		rooms:   outcome.result.RoomScores,
		caption: builtCaption,
		tags:    tags,
	}
}

// buildTags derives the denormalized searchable facets for one image:
// "room:<room>", "obj:<label>", "col:<name>", "mat:<name>", "style:<name>".
func buildTags(img model.Image, objects []model.Object) []model.Tag {
	var tags []model.Tag
	if img.Room != "" {
		tags = append(tags, model.Tag{ImageID: img.ID, Tag: "room:" + img.Room})
	}
	seen := make(map[string]bool)
	for _, o := range objects {
		addTag(&tags, seen, img.ID, "obj:"+o.Label)
		if o.ColorName != "" {
			addTag(&tags, seen, img.ID, "col:"+o.ColorName)
		}
		if o.Material != "" {
			addTag(&tags, seen, img.ID, "mat:"+o.Material)
		}
	}
	for _, s := range img.StyleTags {
		addTag(&tags, seen, img.ID, "style:"+s)
	}
	return tags
}

func addTag(tags *[]model.Tag, seen map[string]bool, imageID, tag string) {
	if seen[tag] {
		return
	}
	seen[tag] = true
	*tags = append(*tags, model.Tag{ImageID: imageID, Tag: tag})
}
