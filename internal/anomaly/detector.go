// Package anomaly scores events against an ensemble of two outlier
// models: an isolation forest and a local-density (LOF) check over the
// most recent history. The ensemble flags an event when at least one
// model does and reports the mean of the component scores.
package anomaly

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// Config holds the detector tunables
type Config struct {
	HistorySize       int     `json:"history_size"`
	MinRetrainSamples int     `json:"min_retrain_samples"`
	NumTrees          int     `json:"num_trees"`
	SampleSize        int     `json:"sample_size"`
	Contamination     float64 `json:"contamination"`
	LOFNeighbors      int     `json:"lof_neighbors"`
	LOFWindow         int     `json:"lof_window"`
	LazyFitMin        int     `json:"lazy_fit_min"`
	ArtifactPath      string  `json:"artifact_path"`
	Seed              int64   `json:"seed"`
}

// DefaultConfig returns the detector defaults
func DefaultConfig() Config {
	return Config{
		HistorySize:       10000,
		MinRetrainSamples: 100,
		NumTrees:          100,
		SampleSize:        256,
		Contamination:     0.1,
		LOFNeighbors:      20,
		LOFWindow:         50,
		LazyFitMin:        16,
		Seed:              42,
	}
}

// Result is the outcome of one ensemble scoring pass
type Result struct {
	IsAnomaly        bool     `json:"is_anomaly"`
	Score            float64  `json:"ensemble_score"`
	Flags            []string `json:"flags,omitempty"`
	IsolationAnomaly bool     `json:"isolation_forest_anomaly"`
	IsolationScore   float64  `json:"isolation_forest_score"`
	LOFAnomaly       bool     `json:"lof_anomaly"`
	LOFScore         float64  `json:"lof_score"`
}

// Detector holds the ensemble models and the bounded feature history.
// The fitted forest sits behind an atomic pointer so retraining never
// blocks or tears in-flight scoring.
type Detector struct {
	cfg    Config
	logger *zap.Logger

	forest atomic.Pointer[IsolationForest]

	mu      sync.Mutex
	history [][]float64
	next    int
	full    bool
}

// NewDetector creates an ensemble anomaly detector
func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if cfg.HistorySize <= 0 {
		cfg = DefaultConfig()
	}
	d := &Detector{
		cfg:     cfg,
		logger:  logger.Named("anomaly"),
		history: make([][]float64, 0, cfg.HistorySize),
	}
	if cfg.ArtifactPath != "" {
		if err := d.loadArtifact(cfg.ArtifactPath); err != nil {
			d.logger.Warn("could not load anomaly model artifact", zap.Error(err))
		}
	}
	return d
}

// Detect extracts features from the event, scores them through both
// detectors and appends the vector to history afterward. Cold start
// (no fitted model, insufficient history) scores as non-anomalous.
func (d *Detector) Detect(event *models.Event) Result {
	vec := Extract(event)
	res := d.score(vec)
	d.observe(vec)
	return res
}

func (d *Detector) score(vec []float64) Result {
	var res Result

	forest := d.forest.Load()
	if forest == nil {
		forest = d.lazyFit()
	}
	if forest != nil {
		res.IsolationAnomaly, res.IsolationScore = forest.Predict(vec)
		if res.IsolationAnomaly {
			res.Flags = append(res.Flags, "isolation_forest_anomaly")
		}
	}

	res.LOFAnomaly, res.LOFScore = d.lofCheck(vec)
	if res.LOFAnomaly {
		res.Flags = append(res.Flags, "lof_anomaly")
	}

	votes := 0
	if res.IsolationAnomaly {
		votes++
	}
	if res.LOFAnomaly {
		votes++
	}
	res.IsAnomaly = votes >= 1
	res.Score = (res.IsolationScore + res.LOFScore) / 2

	return res
}

// lofCheck scores the vector against the density of the most recent
// history window. The point is an outlier when its negative outlier
// factor falls more than two standard deviations below the window mean.
func (d *Detector) lofCheck(vec []float64) (bool, float64) {
	recent := d.recentHistory(d.cfg.LOFWindow)
	if len(recent) <= d.cfg.LOFNeighbors {
		return false, 0
	}

	X := append(recent, vec)
	lof := lofScores(X, d.cfg.LOFNeighbors)

	negFactors := make([]float64, len(lof))
	for i, v := range lof {
		negFactors[i] = -v
	}
	mean, std := meanStd(negFactors)
	current := negFactors[len(negFactors)-1]

	isAnomaly := current < mean-2*std
	score := current
	if score < 0 {
		score = -score
	}
	return isAnomaly, score
}

// lazyFit trains the first forest once enough history has accumulated
func (d *Detector) lazyFit() *IsolationForest {
	snapshot := d.snapshotHistory()
	if len(snapshot) < d.cfg.LazyFitMin {
		return nil
	}
	forest := FitIsolationForest(snapshot, d.cfg.NumTrees, d.cfg.SampleSize, d.cfg.Contamination, d.cfg.Seed)
	if forest != nil && d.forest.CompareAndSwap(nil, forest) {
		d.logger.Info("isolation forest initialized", zap.Int("samples", len(snapshot)))
	}
	return d.forest.Load()
}

// Retrain refits both detectors on the full current history and swaps
// the fitted forest in atomically. Requires MinRetrainSamples unless
// forced.
func (d *Detector) Retrain(force bool) (bool, error) {
	snapshot := d.snapshotHistory()
	if len(snapshot) < d.cfg.MinRetrainSamples && !force {
		d.logger.Info("not enough data to retrain",
			zap.Int("samples", len(snapshot)),
			zap.Int("required", d.cfg.MinRetrainSamples),
		)
		return false, nil
	}
	if len(snapshot) == 0 {
		return false, nil
	}

	forest := FitIsolationForest(snapshot, d.cfg.NumTrees, d.cfg.SampleSize, d.cfg.Contamination, d.cfg.Seed)
	if forest == nil {
		return false, fmt.Errorf("retrain produced no model from %d samples", len(snapshot))
	}
	d.forest.Store(forest)

	if d.cfg.ArtifactPath != "" {
		if err := d.saveArtifact(d.cfg.ArtifactPath, snapshot); err != nil {
			d.logger.Error("failed to persist anomaly model artifact", zap.Error(err))
		}
	}

	d.logger.Info("anomaly models retrained", zap.Int("samples", len(snapshot)))
	return true, nil
}

// HistorySize returns the number of vectors currently held
func (d *Detector) HistorySize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.full {
		return d.cfg.HistorySize
	}
	return len(d.history)
}

// observe appends a vector to the bounded ring, evicting oldest first
func (d *Detector) observe(vec []float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.full && len(d.history) < d.cfg.HistorySize {
		d.history = append(d.history, vec)
		if len(d.history) == d.cfg.HistorySize {
			d.full = true
		}
		return
	}
	d.full = true
	d.history[d.next] = vec
	d.next = (d.next + 1) % d.cfg.HistorySize
}

// snapshotHistory copies the ring in insertion order
func (d *Detector) snapshotHistory() [][]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.full {
		out := make([][]float64, len(d.history))
		copy(out, d.history)
		return out
	}
	out := make([][]float64, 0, d.cfg.HistorySize)
	out = append(out, d.history[d.next:]...)
	out = append(out, d.history[:d.next]...)
	return out
}

// recentHistory returns up to n most recent vectors, oldest first
func (d *Detector) recentHistory(n int) [][]float64 {
	snapshot := d.snapshotHistory()
	if len(snapshot) > n {
		snapshot = snapshot[len(snapshot)-n:]
	}
	return snapshot
}

type artifact struct {
	FittedAt time.Time   `json:"fitted_at"`
	Config   Config      `json:"config"`
	Samples  [][]float64 `json:"samples"`
}

func (d *Detector) saveArtifact(path string, samples [][]float64) error {
	data, err := json.Marshal(artifact{
		FittedAt: time.Now().UTC(),
		Config:   d.cfg,
		Samples:  samples,
	})
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// loadArtifact restores the training snapshot and refits the forest.
// Fitting is deterministic for a fixed seed, so refitting the saved
// samples reproduces the persisted model.
func (d *Detector) loadArtifact(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read artifact: %w", err)
	}
	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return fmt.Errorf("unmarshal artifact: %w", err)
	}
	if len(art.Samples) == 0 {
		return nil
	}

	d.mu.Lock()
	for _, vec := range art.Samples {
		if !d.full && len(d.history) < d.cfg.HistorySize {
			d.history = append(d.history, vec)
		} else {
			d.full = true
			d.history[d.next] = vec
			d.next = (d.next + 1) % d.cfg.HistorySize
		}
	}
	d.mu.Unlock()

	forest := FitIsolationForest(art.Samples, d.cfg.NumTrees, d.cfg.SampleSize, d.cfg.Contamination, d.cfg.Seed)
	if forest != nil {
		d.forest.Store(forest)
		d.logger.Info("anomaly model restored from artifact",
			zap.Int("samples", len(art.Samples)),
			zap.Time("fitted_at", art.FittedAt),
		)
	}
	return nil
}
