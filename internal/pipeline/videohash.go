package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/keagan/videohash/internal/errs"
	"github.com/keagan/videohash/internal/fingerprint"
)

// VideoHash is the fingerprint of one video and the state of its
// computation. It moves Uninitialized → Sampling → Hashing → Ready, or to
// Failed from any stage, and never leaves a terminal state.
type VideoHash struct {
	pipeline *Pipeline

	mu     sync.RWMutex
	state  State
	err    error
	result *Result
}

// NewVideoHash returns an Uninitialized VideoHash bound to p.
func (p *Pipeline) NewVideoHash() *VideoHash {
	return &VideoHash{pipeline: p}
}

// Compute is a shorthand for NewVideoHash followed by Compute.
func (p *Pipeline) Compute(ctx context.Context, path string) (*VideoHash, error) {
	v := p.NewVideoHash()
	return v, v.Compute(ctx, path)
}

// Compute runs the pipeline once. A failure leaves v Failed with the
// originating error and no fingerprint.
func (v *VideoHash) Compute(ctx context.Context, path string) error {
	v.mu.Lock()
	if v.state != Uninitialized {
		state := v.state
		v.mu.Unlock()
		return errs.Configf("compute", "video hash already %s", state)
	}
	v.state = Sampling
	v.mu.Unlock()

	res, err := v.pipeline.Run(ctx, path, v.setState)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.state = Failed
		v.err = err
		return err
	}
	v.state = Ready
	v.result = res
	return nil
}

func (v *VideoHash) setState(s State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.state.Terminal() {
		v.state = s
	}
}

// State returns the current lifecycle stage.
func (v *VideoHash) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Err returns the error that made v Failed.
func (v *VideoHash) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Result returns the full computation result once Ready.
func (v *VideoHash) Result() (*Result, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	switch v.state {
	case Ready:
		return v.result, nil
	case Failed:
		return nil, v.err
	}
	return nil, ErrNotReady
}

// Fingerprint returns the computed fingerprint once Ready.
func (v *VideoHash) Fingerprint() (fingerprint.Fingerprint, error) {
	res, err := v.Result()
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}
	return res.Fingerprint, nil
}

// Hex returns the canonical serialization of the fingerprint.
func (v *VideoHash) Hex() (string, error) {
	fp, err := v.Fingerprint()
	if err != nil {
		return "", err
	}
	return fp.Hex(), nil
}

// Duration returns the length of the hashed video.
func (v *VideoHash) Duration() time.Duration {
	res, err := v.Result()
	if err != nil {
		return 0
	}
	return res.Duration
}

// FrameCount returns the number of frames the fingerprint was built from.
func (v *VideoHash) FrameCount() int {
	res, err := v.Result()
	if err != nil {
		return 0
	}
	return res.FrameCount
}

// Equal reports bitwise fingerprint equality. VideoHashes that are not
// Ready are equal to nothing.
func (v *VideoHash) Equal(o *VideoHash) bool {
	a, err := v.Fingerprint()
	if err != nil {
		return false
	}
	b, err := o.Fingerprint()
	if err != nil {
		return false
	}
	return a.Equal(b)
}

// Distance compares v with o.
func (v *VideoHash) Distance(o *VideoHash) (fingerprint.DistanceResult, error) {
	a, err := v.Fingerprint()
	if err != nil {
		return fingerprint.DistanceResult{}, err
	}
	b, err := o.Fingerprint()
	if err != nil {
		return fingerprint.DistanceResult{}, err
	}
	return fingerprint.Distance(a, b)
}

// IsDuplicate applies a duplicate threshold to v and o.
func (v *VideoHash) IsDuplicate(o *VideoHash, t fingerprint.Threshold) (bool, error) {
	a, err := v.Fingerprint()
	if err != nil {
		return false, err
	}
	b, err := o.Fingerprint()
	if err != nil {
		return false, err
	}
	return fingerprint.IsDuplicate(a, b, t)
}

// DistanceTo compares v with a stored fingerprint.
func (v *VideoHash) DistanceTo(fp fingerprint.Fingerprint) (fingerprint.DistanceResult, error) {
	a, err := v.Fingerprint()
	if err != nil {
		return fingerprint.DistanceResult{}, err
	}
	return fingerprint.Distance(a, fp)
}
