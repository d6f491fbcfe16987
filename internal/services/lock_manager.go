// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 按键（集合路径）管理的锁
type LockManager struct {
	locks      map[string]*LockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration
	maxLocks   int
	stop       chan struct{}
	stopOnce   sync.Once
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    *sync.RWMutex
	LastUsed time.Time
	// 正在等待或持有该锁的调用数，大于 0 时不会被清理
	refs int
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		locks:    make(map[string]*LockInfo),
		lockTTL:  30 * time.Minute,
		maxLocks: 200,
		stop:     make(chan struct{}),
	}

	// 启动清理器
	lm.startCleanup(5 * time.Minute)
	return lm
}

func (lm *LockManager) acquire(key string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.locks[key]
	if !exists {
		info = &LockInfo{Mutex: &sync.RWMutex{}}
		lm.locks[key] = info
	}
	info.refs++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info.refs--
	info.LastUsed = time.Now()
}

// ExecuteWithLock 在写锁保护下执行操作
func (lm *LockManager) ExecuteWithLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// ExecuteWithReadLock 在读锁保护下执行操作
func (lm *LockManager) ExecuteWithReadLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)

	info.Mutex.RLock()
	defer info.Mutex.RUnlock()
	return fn()
}

// Size 当前锁数量
func (lm *LockManager) Size() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}

// Stop 停止清理器
func (lm *LockManager) Stop() {
	lm.stopOnce.Do(func() { close(lm.stop) })
}

// 定期清理未使用的锁
func (lm *LockManager) startCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-lm.stop:
				return
			case <-ticker.C:
				lm.cleanupUnusedLocks(time.Now())
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks(now time.Time) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 只有在锁数量过多时才清理
	if len(lm.locks) <= lm.maxLocks {
		return
	}
	for key, info := range lm.locks {
		if info.refs == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.locks, key)
		}
	}
}
