// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"os"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/revpack/revpack/internal/base"
	"github.com/revpack/revpack/internal/lockfile"
	"github.com/revpack/revpack/packfile"
)

// repacker rewrites a selection of source packs into one output pack pair,
// then deletes the sources it fully subsumed. A directory-wide lock file
// serializes repacks across processes; a held lock surfaces as
// ErrRepackInProgress rather than blocking.
type repacker struct {
	dir  *PackDir
	opts *Options
}

// repackResult summarizes a completed run for metrics.
type repackResult struct {
	inputs  int
	outputs int
	entries int
	gced    int
}

// scanEntry is one data entry lifted out of a source pack.
type scanEntry struct {
	node      Node
	deltaBase Node
	payload   []byte
	srcPath   string
	mtime     time.Time
}

// run executes one repack. Incremental runs consume only the packs the
// picker selects; full runs consume everything readable.
func (r *repacker) run(jobID int, incremental bool) (repackResult, error) {
	var res repackResult
	lock, err := lockfile.TryLock(base.MakeFilepath(r.dir.Dirname(), base.FileTypeLock, ""))
	if err != nil {
		if errors.Is(err, lockfile.ErrBusy) {
			return res, errors.Wrapf(ErrRepackInProgress, "pack directory %s", r.dir.Dirname())
		}
		return res, err
	}
	defer func() { _ = lock.Close() }()

	if err := r.dir.MarkForRefresh(); err != nil {
		return res, err
	}

	dataPacks, dataStats := r.dataCandidates()
	histPacks, histStats := r.histCandidates()
	if incremental {
		dataStats = pickRepackPacks(r.opts, dataStats)
		histStats = pickRepackPacks(r.opts, histStats)
	}
	if len(dataStats) == 0 && len(histStats) == 0 {
		return res, nil
	}

	start := time.Now()
	info := base.RepackInfo{JobID: jobID, Incremental: incremental}
	for _, st := range dataStats {
		info.Input = append(info.Input, st.path)
	}
	for _, st := range histStats {
		info.Input = append(info.Input, st.path)
	}
	res.inputs = len(info.Input)
	r.opts.EventListener.RepackBegin(info)

	ledger := newRepackLedger()
	dataScanned, byName, nameOrder := r.scanData(jobID, ledger, dataPacks, dataStats)
	r.collectGarbage(ledger, byName, nameOrder)

	dataOut, err := r.writeData(jobID, ledger, byName, nameOrder)
	if err != nil {
		r.finishEvent(info, res, start, err)
		return res, err
	}
	if dataOut != "" {
		info.Output = append(info.Output, dataOut)
	}

	histScanned, histOut, err := r.repackHistory(jobID, ledger, histPacks, histStats)
	if err != nil {
		r.finishEvent(info, res, start, err)
		return res, err
	}
	if histOut != "" {
		info.Output = append(info.Output, histOut)
	}
	res.outputs = len(info.Output)
	res.entries, res.gced = ledger.counts()

	if err := r.dir.MarkForRefresh(); err != nil {
		r.finishEvent(info, res, start, err)
		return res, err
	}
	r.deleteSubsumed(jobID, ledger, dataScanned, histScanned)
	if err := r.dir.MarkForRefresh(); err != nil {
		r.finishEvent(info, res, start, err)
		return res, err
	}

	r.finishEvent(info, res, start, nil)
	return res, nil
}

func (r *repacker) finishEvent(
	info base.RepackInfo, res repackResult, start time.Time, err error,
) {
	info.Entries = res.entries
	info.GCed = res.gced
	info.Duration = time.Since(start)
	info.Err = err
	r.opts.EventListener.RepackEnd(info)
}

// dataCandidates returns the open data packs keyed by base path plus their
// stats. Packs whose data file cannot be stat'ed are skipped.
func (r *repacker) dataCandidates() (map[string]*packfile.DataPack, []packStat) {
	packs := make(map[string]*packfile.DataPack)
	var stats []packStat
	for _, p := range r.dir.DataPacks() {
		fi, err := os.Stat(p.Path() + base.DataPackSuffix)
		if err != nil {
			continue
		}
		packs[p.Path()] = p
		stats = append(stats, packStat{path: p.Path(), size: fi.Size(), mtime: fi.ModTime()})
	}
	return packs, stats
}

func (r *repacker) histCandidates() (map[string]*packfile.HistoryPack, []packStat) {
	packs := make(map[string]*packfile.HistoryPack)
	var stats []packStat
	for _, p := range r.dir.HistoryPacks() {
		fi, err := os.Stat(p.Path() + base.HistoryPackSuffix)
		if err != nil {
			continue
		}
		packs[p.Path()] = p
		stats = append(stats, packStat{path: p.Path(), size: fi.Size(), mtime: fi.ModTime()})
	}
	return packs, stats
}

// scanData reads every entry out of the selected data packs. A pack's
// entries enter the ledger only if the whole pack scans cleanly; a pack that
// fails mid-scan is quarantined and contributes nothing, which also keeps it
// off the deletion list.
func (r *repacker) scanData(
	jobID int, ledger *repackLedger, packs map[string]*packfile.DataPack, sel []packStat,
) (scanned map[string]struct{}, byName map[string]map[Node]scanEntry, nameOrder []string) {
	scanned = make(map[string]struct{})
	byName = make(map[string]map[Node]scanEntry)
	for _, st := range sel {
		pack, ok := packs[st.path]
		if !ok {
			continue
		}
		type rec struct {
			key       Key
			deltaBase Node
			payload   []byte
		}
		var recs []rec
		keys, err := pack.Keys()
		if err == nil {
			for _, k := range keys {
				payload, _, deltaBase, gerr := pack.GetDelta(k.Name, k.Node)
				if gerr != nil {
					err = gerr
					break
				}
				recs = append(recs, rec{key: k, deltaBase: deltaBase, payload: payload})
			}
		}
		if err != nil {
			r.opts.EventListener.PackCorruption(base.PackCorruptionInfo{
				JobID: jobID, Path: st.path + base.DataPackSuffix, Err: err,
			})
			continue
		}
		scanned[st.path] = struct{}{}
		for _, rc := range recs {
			ledger.addDataSource(rc.key, st.path)
			m, ok := byName[rc.key.Name]
			if !ok {
				m = make(map[Node]scanEntry)
				byName[rc.key.Name] = m
				nameOrder = append(nameOrder, rc.key.Name)
			}
			if _, dup := m[rc.key.Node]; dup {
				continue
			}
			m[rc.key.Node] = scanEntry{
				node:      rc.key.Node,
				deltaBase: rc.deltaBase,
				payload:   rc.payload,
				srcPath:   st.path,
				mtime:     st.mtime,
			}
		}
	}
	sort.Strings(nameOrder)
	return scanned, byName, nameOrder
}

// collectGarbage drops entries past the TTL that the keep predicate does not
// pin. Age is approximated by the source pack's modification time. Dropping
// a delta base is fine: its children are re-rooted when the output chains
// are assembled.
func (r *repacker) collectGarbage(
	ledger *repackLedger, byName map[string]map[Node]scanEntry, nameOrder []string,
) {
	if r.opts.GC.TTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.opts.GC.TTL)
	for _, name := range nameOrder {
		for node, e := range byName[name] {
			if e.mtime.After(cutoff) {
				continue
			}
			key := MakeKey(name, node)
			if r.opts.GC.Keep != nil && r.opts.GC.Keep(key) {
				continue
			}
			ledger.markGCed(key)
			delete(byName[name], node)
		}
	}
}

// writeData assembles the output data pack. The chain shape is ancestry
// driven, not inherited from the sources: per name the ancestor graph is read
// from every history pack in the directory (not just the repacked selection),
// nodes are ordered children-first, and each node's delta base is the child
// that most recently claimed it as a parent. Stored deltas are reused when
// they already patch against the chosen base; everything else is re-encoded
// with DeltaFunc.
func (r *repacker) writeData(
	jobID int, ledger *repackLedger, byName map[string]map[Node]scanEntry, nameOrder []string,
) (string, error) {
	out := packfile.NewMutableDataPack(r.dir.Dirname())
	for _, name := range nameOrder {
		if len(byName[name]) == 0 {
			continue
		}
		if err := r.writeName(out, ledger, name, byName[name]); err != nil {
			return "", err
		}
	}

	entries := out.Len()
	path, err := out.Flush()
	if err != nil {
		return "", err
	}
	if path != "" {
		r.opts.EventListener.PackCreated(base.PackCreateInfo{
			JobID:   jobID,
			Path:    path,
			Entries: entries,
			Size:    pairSize(path, base.DataPackSuffix, base.DataIndexSuffix),
		})
	}
	return path, nil
}

// resolvedText is a materialized revision awaiting re-encoding.
type resolvedText struct {
	node Node
	text []byte
}

func (r *repacker) writeName(
	out *packfile.MutableDataPack, ledger *repackLedger, name string, set map[Node]scanEntry,
) error {
	nodes := make([]Node, 0, len(set))
	for n := range set {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Less(nodes[j]) })

	// Materialize every resolvable text up front. An entry whose chain
	// dangles outside every pack keeps its stored bytes: it reads the same
	// after the repack as before it, while dropping it would be data loss.
	text := make(map[Node][]byte, len(set))
	for _, n := range nodes {
		t, err := r.resolveText(name, n)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			e := set[n]
			if aerr := out.Add(name, n, e.deltaBase, e.payload); aerr != nil {
				return aerr
			}
			ledger.markDataRepacked(MakeKey(name, n))
			continue
		}
		text[n] = t
	}

	parents, err := r.ancestorEdges(name, text)
	if err != nil {
		return err
	}
	order := topoChildrenFirst(text, parents)

	// Walking children-first, each node claims its parents as delta
	// dependents; the most recent claim on a parent wins. Greedy and
	// single-base-per-parent, so the walk stays O(n), and bases always point
	// at a child emitted earlier in the order, which keeps the edges acyclic.
	baseOf := make(map[Node]Node)
	for _, n := range order {
		for _, p := range parents[n] {
			baseOf[p] = n
		}
	}
	// Bound the chains. A reset node becomes a full text and the root of a
	// fresh chain for its remaining ancestors.
	depth := make(map[Node]int)
	for _, n := range order {
		b, ok := baseOf[n]
		if !ok {
			continue
		}
		d := depth[b] + 1
		if r.opts.MaxChainLen > 0 && d >= r.opts.MaxChainLen {
			delete(baseOf, n)
			d = 0
		}
		depth[n] = d
	}

	var orphans []resolvedText
	for _, n := range nodes {
		t, ok := text[n]
		if !ok {
			continue
		}
		b, hasBase := baseOf[n]
		if !hasBase {
			orphans = append(orphans, resolvedText{node: n, text: t})
			continue
		}
		e := set[n]
		if e.deltaBase == b {
			err = out.Add(name, n, b, e.payload)
		} else {
			err = out.Add(name, n, b, r.opts.DeltaFunc(text[b], t))
		}
		if err != nil {
			return err
		}
		ledger.markDataRepacked(MakeKey(name, n))
	}
	return r.writeOrphans(out, ledger, name, orphans)
}

// ancestorEdges returns, per node, its parents that are also being rewritten.
// Ancestry comes from the whole directory's history packs so bases are chosen
// correctly even when history is not part of this repack. Nodes without a
// history record simply contribute no edges.
func (r *repacker) ancestorEdges(name string, text map[Node][]byte) (map[Node][]Node, error) {
	parents := make(map[Node][]Node)
	for n := range text {
		info, err := r.dir.GetNodeInfo(name, n)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		// A copied revision's P1 lives under the source name and cannot serve
		// as a base inside this name's section.
		if info.CopyFrom == "" && !info.P1.IsNull() {
			if _, ok := text[info.P1]; ok {
				parents[n] = append(parents[n], info.P1)
			}
		}
		if !info.P2.IsNull() {
			if _, ok := text[info.P2]; ok {
				parents[n] = append(parents[n], info.P2)
			}
		}
	}
	return parents, nil
}

// topoChildrenFirst orders the nodes children before parents, newest first,
// so deltas point from newer to older. Roots and ties resolve in node order
// for determinism. Nodes on an ancestry cycle (corrupt history) are left out
// and fall through to the orphan path.
func topoChildrenFirst(text map[Node][]byte, parents map[Node][]Node) []Node {
	childCount := make(map[Node]int, len(text))
	for n := range text {
		childCount[n] = 0
	}
	for _, ps := range parents {
		for _, p := range ps {
			childCount[p]++
		}
	}
	var ready []Node
	for n, c := range childCount {
		if c == 0 {
			ready = append(ready, n)
		}
	}
	order := make([]Node, 0, len(text))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Less(ready[j]) })
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, p := range parents[n] {
			childCount[p]--
			if childCount[p] == 0 {
				ready = append(ready, p)
			}
		}
	}
	return order
}

// writeOrphans emits the entries no child claimed. They are chained against
// each other, largest text first, so a name's revisions still share bytes
// even without a usable ancestry relation.
func (r *repacker) writeOrphans(
	out *packfile.MutableDataPack, ledger *repackLedger, name string, orphans []resolvedText,
) error {
	sort.Slice(orphans, func(i, j int) bool {
		if len(orphans[i].text) != len(orphans[j].text) {
			return len(orphans[i].text) > len(orphans[j].text)
		}
		return orphans[i].node.Less(orphans[j].node)
	})
	for i, rv := range orphans {
		var err error
		if i == 0 || r.opts.DisableOrphanChaining ||
			(r.opts.MaxChainLen > 0 && i%r.opts.MaxChainLen == 0) {
			err = out.Add(name, rv.node, Null, rv.text)
		} else {
			prev := orphans[i-1]
			err = out.Add(name, rv.node, prev.node, r.opts.DeltaFunc(prev.text, rv.text))
		}
		if err != nil {
			return err
		}
		ledger.markDataRepacked(MakeKey(name, rv.node))
	}
	return nil
}

// resolveText materializes a full text by replaying across every pack in the
// directory. The sources are still on disk at this point, so any chain that
// was resolvable before the repack is resolvable here.
func (r *repacker) resolveText(name string, node Node) ([]byte, error) {
	return r.dir.Get(name, node)
}

// repackHistory rewrites the selected history packs into one output pack.
// Records are deduplicated by key; entries whose data was garbage collected
// are dropped alongside it.
func (r *repacker) repackHistory(
	jobID int, ledger *repackLedger, packs map[string]*packfile.HistoryPack, sel []packStat,
) (scanned map[string]struct{}, outPath string, err error) {
	scanned = make(map[string]struct{})
	out := packfile.NewMutableHistoryPack(r.dir.Dirname())
	added := make(map[Key]struct{})
	for _, st := range sel {
		pack, ok := packs[st.path]
		if !ok {
			continue
		}
		type rec struct {
			key  Key
			info NodeInfo
		}
		var recs []rec
		keys, kerr := pack.Keys()
		if kerr == nil {
			for _, k := range keys {
				info, gerr := pack.GetNodeInfo(k.Name, k.Node)
				if gerr != nil {
					kerr = gerr
					break
				}
				recs = append(recs, rec{key: k, info: info})
			}
		}
		if kerr != nil {
			r.opts.EventListener.PackCorruption(base.PackCorruptionInfo{
				JobID: jobID, Path: st.path + base.HistoryPackSuffix, Err: kerr,
			})
			continue
		}
		scanned[st.path] = struct{}{}
		for _, rc := range recs {
			ledger.addHistSource(rc.key, st.path)
			if e, ok := ledger.entries[rc.key]; ok && e.flags&entryGCed != 0 {
				continue
			}
			if _, dup := added[rc.key]; dup {
				continue
			}
			added[rc.key] = struct{}{}
			if err := out.Add(rc.key.Name, rc.key.Node, rc.info); err != nil {
				return scanned, "", err
			}
			ledger.markHistRepacked(rc.key)
		}
	}

	entries := out.Len()
	outPath, err = out.Flush()
	if err != nil {
		return scanned, "", err
	}
	if outPath != "" {
		r.opts.EventListener.PackCreated(base.PackCreateInfo{
			JobID:   jobID,
			Path:    outPath,
			Entries: entries,
			Size:    pairSize(outPath, base.HistoryPackSuffix, base.HistoryIndexSuffix),
		})
	}
	return scanned, outPath, nil
}

// deleteSubsumed removes source packs whose every scanned entry made it into
// the output or was collected. Packs that failed their scan are never
// deleted. The data file goes first: once it is gone the pack is invisible
// to readers, and a leftover index is harmless.
func (r *repacker) deleteSubsumed(
	jobID int, ledger *repackLedger, dataScanned, histScanned map[string]struct{},
) {
	dataPaths := make([]string, 0, len(dataScanned))
	for p := range dataScanned {
		dataPaths = append(dataPaths, p)
	}
	sort.Strings(dataPaths)
	for _, p := range dataPaths {
		if !ledger.dataSourceComplete(p) {
			continue
		}
		r.cleanPair(jobID, p, base.FileTypeDataPack, base.DataPackSuffix, base.FileTypeDataIndex, base.DataIndexSuffix)
	}

	histPaths := make([]string, 0, len(histScanned))
	for p := range histScanned {
		histPaths = append(histPaths, p)
	}
	sort.Strings(histPaths)
	for _, p := range histPaths {
		if !ledger.histSourceComplete(p) {
			continue
		}
		r.cleanPair(jobID, p, base.FileTypeHistoryPack, base.HistoryPackSuffix, base.FileTypeHistoryIndex, base.HistoryIndexSuffix)
	}
}

func (r *repacker) cleanPair(
	jobID int, path string,
	packType base.FileType, packSuffix string,
	indexType base.FileType, indexSuffix string,
) {
	err := r.opts.Cleaner.Clean(packType, path+packSuffix)
	if oserror.IsNotExist(err) {
		// Another process already cleaned it.
		err = nil
	}
	if err == nil {
		if ierr := r.opts.Cleaner.Clean(indexType, path+indexSuffix); ierr != nil && !oserror.IsNotExist(ierr) {
			// The pack is already invisible; report and move on.
			r.opts.EventListener.BackgroundError(ierr)
		}
	}
	r.opts.EventListener.PackDeleted(base.PackDeleteInfo{JobID: jobID, Path: path, Err: err})
}

// pairSize returns the combined size of a pack pair, zero on stat failure.
func pairSize(path, dataSuffix, indexSuffix string) int64 {
	var size int64
	if fi, err := os.Stat(path + dataSuffix); err == nil {
		size += fi.Size()
	}
	if fi, err := os.Stat(path + indexSuffix); err == nil {
		size += fi.Size()
	}
	return size
}
