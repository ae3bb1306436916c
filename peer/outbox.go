package peer

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"packet-racers/pkg/logger"
	"packet-racers/pkg/transport"
)

const defaultOutboxDelay = 500 * time.Millisecond

// OutboxResult reports the outcome of one file sent by an Outbox.
type OutboxResult struct {
	Path     string
	Progress Progress
	Err      error
}

// Outbox watches a directory and sends every file created or written in it
// to one receiver. Rapid events on the same file collapse into one send,
// and sends run one at a time in arrival order.
type Outbox struct {
	node   *Node
	dir    string
	remote string
	kind   transport.Kind

	fsWatcher     *fsnotify.Watcher
	debounceMu    sync.Mutex
	debounceMap   map[string]*time.Timer
	debounceDelay time.Duration

	pending chan string
	results chan OutboxResult

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type OutboxOption func(*Outbox)

func WithOutboxDelay(d time.Duration) OutboxOption {
	return func(o *Outbox) {
		if d > 0 {
			o.debounceDelay = d
		}
	}
}

func NewOutbox(ctx context.Context, node *Node, dir, remote string, kind transport.Kind, opts ...OutboxOption) (*Outbox, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	o := &Outbox{
		node:          node,
		dir:           dir,
		remote:        remote,
		kind:          kind,
		fsWatcher:     fsWatcher,
		debounceMap:   make(map[string]*time.Timer),
		debounceDelay: defaultOutboxDelay,
		pending:       make(chan string, 100),
		results:       make(chan OutboxResult, 100),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start begins watching the directory.
func (o *Outbox) Start() error {
	if err := o.fsWatcher.Add(o.dir); err != nil {
		return err
	}
	logger.Sugar.Infof("[Outbox] watching %s, sending to %s over %s", o.dir, o.remote, o.kind)

	o.wg.Add(2)
	go o.eventLoop()
	go o.sendLoop()
	return nil
}

// Results delivers one entry per attempted file. It is closed by Stop.
func (o *Outbox) Results() <-chan OutboxResult {
	return o.results
}

// Stop is safe to call more than once.
func (o *Outbox) Stop() {
	o.stopOnce.Do(func() {
		o.cancel()
		o.fsWatcher.Close()

		o.debounceMu.Lock()
		for _, timer := range o.debounceMap {
			timer.Stop()
		}
		o.debounceMap = nil
		o.debounceMu.Unlock()

		o.wg.Wait()
		close(o.results)
		logger.Sugar.Info("[Outbox] stopped")
	})
}

func (o *Outbox) eventLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case event, ok := <-o.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				o.debounce(event.Name)
			}
		case err, ok := <-o.fsWatcher.Errors:
			if !ok {
				return
			}
			logger.Sugar.Warnf("[Outbox] watch error: dir=%s err=%v", o.dir, err)
		}
	}
}

func (o *Outbox) debounce(path string) {
	o.debounceMu.Lock()
	defer o.debounceMu.Unlock()
	if o.debounceMap == nil {
		return
	}
	if timer, exists := o.debounceMap[path]; exists {
		timer.Stop()
	}
	o.debounceMap[path] = time.AfterFunc(o.debounceDelay, func() {
		o.debounceMu.Lock()
		if o.debounceMap != nil {
			delete(o.debounceMap, path)
		}
		o.debounceMu.Unlock()

		select {
		case o.pending <- path:
		case <-o.ctx.Done():
		default:
			logger.Sugar.Warnf("[Outbox] queue full, dropping %s", path)
		}
	})
}

func (o *Outbox) sendLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case path := <-o.pending:
			res := o.send(path)
			select {
			case o.results <- res:
			default:
				logger.Sugar.Warnf("[Outbox] results full, dropping result for %s", path)
			}
		}
	}
}

func (o *Outbox) send(path string) OutboxResult {
	ft, err := o.node.CreateFileTransferToAddr(o.remote, o.kind)
	if err != nil {
		logger.Sugar.Errorf("[Outbox] cannot reach %s: %v", o.remote, err)
		return OutboxResult{Path: path, Err: err}
	}
	defer ft.Close()

	err = ft.Send(path)
	if err != nil {
		logger.Sugar.Errorf("[Outbox] send %s failed: %v", path, err)
	} else {
		logger.Sugar.Infof("[Outbox] sent %s in %s", path, ft.Elapsed())
	}
	return OutboxResult{Path: path, Progress: ft.Progress(), Err: err}
}
