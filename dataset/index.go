package dataset

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
)

const (
	TrainSplit = "train"
	ValidSplit = "valid"
	TestSplit  = "test"
)

// Splits holds the train/valid/test index sets of one example collection.
type Splits struct {
	Train []int `json:"train"`
	Valid []int `json:"valid"`
	Test  []int `json:"test"`
}

type SplitOptions struct {
	TrainRatio float64
	ValidRatio float64
	Seed       int64
	// Each split is downsampled to this fraction when 0 < ScaleRatio < 1.
	ScaleRatio float64
}

// NewRand returns the generator used for every seeded permutation. Each call
// with the same seed yields the same sequence.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

func permute(index []int, rng *rand.Rand) []int {
	perm := rng.Perm(len(index))
	out := make([]int, len(index))
	for i, p := range perm {
		out[i] = index[p]
	}
	return out
}

// RandomSplit permutes 0..n-1 with a generator seeded by seed and cuts the
// permutation at floor(trainRatio*n) and floor((trainRatio+validRatio)*n).
func RandomSplit(n int, trainRatio, validRatio float64, seed int64) Splits {
	index := permute(lo.Range(n), NewRand(seed))

	trainEnd := min(int(trainRatio*float64(n)), n)
	validEnd := max(min(int((trainRatio+validRatio)*float64(n)), n), trainEnd)

	return Splits{
		Train: slices.Clone(index[:trainEnd]),
		Valid: slices.Clone(index[trainEnd:validEnd]),
		Test:  slices.Clone(index[validEnd:]),
	}
}

// SplitTrainValid moves floor(validRatio*len(train)) of the permuted train
// indices into a validation set.
func SplitTrainValid(train []int, validRatio float64, seed int64) ([]int, []int) {
	index := permute(train, NewRand(seed))
	cut := len(index) - int(validRatio*float64(len(index)))
	cut = max(min(cut, len(index)), 0)
	return slices.Clone(index[:cut]), slices.Clone(index[cut:])
}

// Scale keeps a seeded random floor(ratio*len(index)) subset of index.
func Scale(index []int, ratio float64, seed int64) []int {
	if ratio <= 0 || ratio >= 1 {
		return append([]int{}, index...)
	}
	permuted := permute(index, NewRand(seed))
	return permuted[:int(ratio*float64(len(index)))]
}

// Validate checks that every index is in [0, n), appears once within its split,
// and belongs to exactly one split.
func (s Splits) Validate(n int) error {
	owner := make(map[int]string, len(s.Train)+len(s.Valid)+len(s.Test))

	check := func(name string, index []int) error {
		for _, i := range index {
			if i < 0 || i >= n {
				return &InvalidSplitError{Split: name, Index: i, Reason: fmt.Sprintf("is outside [0, %d)", n)}
			}
			if prev, ok := owner[i]; ok {
				if prev == name {
					return &InvalidSplitError{Split: name, Index: i, Reason: "is duplicated"}
				}
				return &InvalidSplitError{Split: name, Index: i, Reason: fmt.Sprintf("overlaps the %v split", prev)}
			}
			owner[i] = name
		}
		return nil
	}

	if err := check(TrainSplit, s.Train); err != nil {
		return err
	}
	if err := check(ValidSplit, s.Valid); err != nil {
		return err
	}
	return check(TestSplit, s.Test)
}

func (s Splits) Sizes() (int, int, int) {
	return len(s.Train), len(s.Valid), len(s.Test)
}

type splitFile struct {
	Train *[]int `json:"train"`
	Valid *[]int `json:"valid"`
	Test  *[]int `json:"test"`
}

// LoadSplits decodes an externally supplied {train, valid?, test} index file.
// Valid is nil in the result when the file does not declare it.
func LoadSplits(r io.Reader) (*Splits, error) {
	var file splitFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, configError("malformed split file: %v", err)
	}
	if file.Train == nil || file.Test == nil {
		return nil, configError("split file must declare both train and test")
	}

	splits := &Splits{Train: *file.Train, Test: *file.Test}
	if file.Valid != nil {
		splits.Valid = *file.Valid
		if splits.Valid == nil {
			splits.Valid = []int{}
		}
	}
	return splits, nil
}

// BuildSplits computes the index sets for a collection of n examples. A given
// split is authoritative; when it lacks valid, valid is carved out of its
// train indices. Without a given split the collection is split randomly.
func BuildSplits(n int, given *Splits, opts SplitOptions) (Splits, error) {
	var splits Splits
	if given == nil {
		splits = RandomSplit(n, opts.TrainRatio, opts.ValidRatio, opts.Seed)
	} else if given.Valid == nil {
		train, valid := SplitTrainValid(given.Train, opts.ValidRatio, opts.Seed)
		splits = Splits{Train: train, Valid: valid, Test: given.Test}
	} else {
		splits = *given
	}

	if err := splits.Validate(n); err != nil {
		return Splits{}, err
	}

	if opts.ScaleRatio > 0 && opts.ScaleRatio < 1 {
		splits = Splits{
			Train: Scale(splits.Train, opts.ScaleRatio, opts.Seed),
			Valid: Scale(splits.Valid, opts.ScaleRatio, opts.Seed),
			Test:  Scale(splits.Test, opts.ScaleRatio, opts.Seed),
		}
	}

	return splits, nil
}

// GoldHeldOut builds dev/test index sets from a gold collection. With half set,
// positives (label != 0) and negatives are permuted independently and each is
// cut in half, so both sets keep the overall label ratio. Without it every
// example goes to dev in permuted order and test is empty.
func GoldHeldOut(labels []int, half bool, rng *rand.Rand) ([]int, []int) {
	if !half {
		return permute(lo.Range(len(labels)), rng), []int{}
	}

	pos := make([]int, 0, len(labels))
	neg := make([]int, 0, len(labels))
	for i, label := range labels {
		if label == 0 {
			neg = append(neg, i)
		} else {
			pos = append(pos, i)
		}
	}

	pos = permute(pos, rng)
	neg = permute(neg, rng)

	dev := append(append([]int{}, pos[:len(pos)/2]...), neg[:len(neg)/2]...)
	test := append(append([]int{}, pos[len(pos)/2:]...), neg[len(neg)/2:]...)
	return dev, test
}

// SyntheticLayout describes a synthetic collection of Total examples whose
// first Positives examples carry label 1 and the rest label 0.
type SyntheticLayout struct {
	Positives int
	Total     int
}

var DefaultSyntheticLayout = SyntheticLayout{Positives: 1000, Total: 2000}

func (l SyntheticLayout) Check(labels []int) error {
	if len(labels) != l.Total {
		return &InvariantError{Index: len(labels), Reason: fmt.Sprintf("expected %d synthetic examples, found %d", l.Total, len(labels))}
	}
	for i, label := range labels {
		if i < l.Positives && label != 1 {
			return &InvariantError{Index: i, Reason: fmt.Sprintf("expected positive label 1, found %d", label)}
		}
		if i >= l.Positives && label != 0 {
			return &InvariantError{Index: i, Reason: fmt.Sprintf("expected negative label 0, found %d", label)}
		}
	}
	return nil
}

// SyntheticTrain downsamples the positive block of a synthetic collection to
// posNum randomly chosen examples and keeps every negative.
func SyntheticTrain(labels []int, posNum int, layout SyntheticLayout, rng *rand.Rand) ([]int, error) {
	if err := layout.Check(labels); err != nil {
		return nil, err
	}
	if posNum < 0 || posNum > layout.Positives {
		return nil, configError("pos_num %d must be in [0, %d]", posNum, layout.Positives)
	}

	train := permute(lo.Range(layout.Positives), rng)[:posNum]
	return append(train, lo.RangeFrom(layout.Positives, layout.Total-layout.Positives)...), nil
}
