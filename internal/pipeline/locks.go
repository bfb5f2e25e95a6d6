package pipeline

import (
	"hash/fnv"
	"sync"
)

// imageLocks serializes the commits of a job with resets and deletes of the same image.
// Images hash onto a fixed set of mutexes.
type imageLocks [64]sync.Mutex

func (l *imageLocks) lock(imageID string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(imageID))
	m := &l[h.Sum32()%uint32(len(l))]
	m.Lock()
	return m.Unlock
}
