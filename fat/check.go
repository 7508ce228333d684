package fat

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/gofat/fatfs/internal/lfn"
)

// CheckReport summarizes a consistency scan of the kind specification §9
// calls out as the recovery path for this core's non-crash-safe metadata
// updates ("recoverable by an external scan"). It is not run
// automatically; callers invoke Check explicitly, e.g. from the fatutil
// fsck subcommand.
type CheckReport struct {
	// ReachableClusters is every cluster reachable from a directory entry
	// or subdirectory chain (specification §8 invariant 5).
	ReachableClusters map[uint32]bool
	// LostClusters are allocated (non-zero FAT entry) clusters unreachable
	// from any directory, the signature of the FAT-extended-before-
	// directory-written crash window specification §5 describes.
	LostClusters []uint32
}

// Check walks every directory reachable from the root, verifying
// specification §8's invariants 5 ("reachable clusters disjoint from
// free"), 6 ("no FAT cycles"), and 7 ("SFN checksum invariant"), and
// aggregates every violation found with multierror rather than stopping
// at the first one, so a single scan reports everything wrong with the
// volume.
func (v *Volume) Check() (*CheckReport, error) {
	report := &CheckReport{ReachableClusters: map[uint32]bool{}}
	var errs *multierror.Error

	visited := map[uint32]bool{}
	if err := v.checkDir(v.RootRef(), "/", report, visited, &errs); err != nil {
		errs = multierror.Append(errs, err)
	}

	for cluster := uint32(firstDataCluster); cluster < v.TotalDataClusters+firstDataCluster; cluster++ {
		entry, err := v.rawEntry(cluster)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if entry != 0 && !report.ReachableClusters[cluster] {
			report.LostClusters = append(report.LostClusters, cluster)
		}
	}

	return report, errs.ErrorOrNil()
}

func (v *Volume) checkDir(ref DirRef, path string, report *CheckReport, visited map[uint32]bool, errs **multierror.Error) error {
	if !ref.isFixed() {
		if visited[ref.StartCluster] {
			*errs = multierror.Append(*errs, fmt.Errorf("%s: directory cluster chain revisited (possible cycle)", path))
			return nil
		}
		visited[ref.StartCluster] = true
		if err := v.markChainReachable(ref.StartCluster, report, errs); err != nil {
			*errs = multierror.Append(*errs, err)
		}
	}

	var acc lfnAccumulator
	var subdirs []DirEntry

	err := v.forEachSlot(ref, func(_ slot, raw []byte) (bool, error) {
		if raw[0] == direntDeleted {
			acc.reset()
			return false, nil
		}
		if raw[11] == AttrLongName {
			acc.add(decodeRawLFN(raw))
			return false, nil
		}
		d := decodeRawDirent(raw)
		if acc.valid {
			if lfn.Checksum(d.Name) != acc.checksum {
				*errs = multierror.Append(*errs, fmt.Errorf(
					"%s: LFN run checksum 0x%02X does not match short name %q (0x%02X)",
					path, acc.checksum, shortNameToDisplay(d.Name), lfn.Checksum(d.Name)))
			}
		}
		acc.reset()
		if d.Attr&AttrVolumeID != 0 {
			return false, nil
		}
		if d.Attr&AttrDirectory != 0 && firstClusterOf(d) != 0 {
			subdirs = append(subdirs, toDirEntry(d, ""))
		} else if firstClusterOf(d) != 0 {
			if err := v.markChainReachable(firstClusterOf(d), report, errs); err != nil {
				return true, err
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	for _, sub := range subdirs {
		subPath := path + sub.ShortName + "/"
		if err := v.checkDir(DirRef{StartCluster: sub.FirstCluster}, subPath, report, visited, errs); err != nil {
			*errs = multierror.Append(*errs, err)
		}
	}
	return nil
}

// markChainReachable walks a cluster chain recording every cluster in
// report.ReachableClusters and fails if it doesn't reach EOC within
// TotalDataClusters hops (specification §8 invariant 6) or if a cluster on
// the chain has a free (zero) FAT entry (invariant 5).
func (v *Volume) markChainReachable(start uint32, report *CheckReport, errs **multierror.Error) error {
	cur := start
	for hops := uint32(0); ; hops++ {
		if hops > v.TotalDataClusters {
			*errs = multierror.Append(*errs, fmt.Errorf(
				"cluster chain starting at %d did not reach EOC within %d hops (cycle suspected)",
				start, v.TotalDataClusters))
			return nil
		}
		if report.ReachableClusters[cur] {
			*errs = multierror.Append(*errs, fmt.Errorf(
				"cluster %d is reachable from more than one chain", cur))
			return nil
		}
		report.ReachableClusters[cur] = true
		next, err := v.Next(cur)
		if err != nil {
			return err
		}
		if next == FreeListEnd {
			return nil
		}
		if next == 0 {
			*errs = multierror.Append(*errs, fmt.Errorf(
				"cluster %d in chain starting at %d is marked free", cur, start))
			return nil
		}
		cur = next
	}
}
