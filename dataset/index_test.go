package dataset

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkDisjoint(t *testing.T, s Splits) {
	t.Helper()
	all := slices.Concat(s.Train, s.Valid, s.Test)
	assert.Len(t, lo.Uniq(all), len(all), "split contains duplicate or shared indices")
}

func TestRandomSplitDeterministic(t *testing.T) {
	for _, seed := range []int64{0, 1, 42, 9999} {
		a := RandomSplit(101, 0.8, 0.1, seed)
		b := RandomSplit(101, 0.8, 0.1, seed)
		assert.Equal(t, a, b)
	}

	assert.NotEqual(t, RandomSplit(100, 0.8, 0.1, 1).Train, RandomSplit(100, 0.8, 0.1, 2).Train)
}

func TestRandomSplitSizes(t *testing.T) {
	s := RandomSplit(101, 0.8, 0.1, 42)
	train, valid, test := s.Sizes()
	assert.Equal(t, 80, train)
	assert.Equal(t, 10, valid)
	assert.Equal(t, 11, test)

	checkDisjoint(t, s)
	require.NoError(t, s.Validate(101))
	assert.ElementsMatch(t, lo.Range(101), slices.Concat(s.Train, s.Valid, s.Test))
}

func TestRandomSplitEmpty(t *testing.T) {
	s := RandomSplit(0, 0.8, 0.1, 42)
	assert.Empty(t, s.Train)
	assert.Empty(t, s.Valid)
	assert.Empty(t, s.Test)
}

func TestSplitTrainValid(t *testing.T) {
	given := lo.RangeFrom(100, 50)
	train, valid := SplitTrainValid(given, 0.1, 42)
	assert.Len(t, valid, 5)
	assert.Len(t, train, 45)
	assert.ElementsMatch(t, given, slices.Concat(train, valid))

	train2, valid2 := SplitTrainValid(given, 0.1, 42)
	assert.Equal(t, train, train2)
	assert.Equal(t, valid, valid2)
}

func TestScale(t *testing.T) {
	index := lo.Range(40)
	scaled := Scale(index, 0.25, 7)
	assert.Len(t, scaled, 10)
	assert.Subset(t, index, scaled)
	assert.Equal(t, scaled, Scale(index, 0.25, 7))

	assert.Equal(t, index, Scale(index, 1, 7))
	assert.Equal(t, index, Scale(index, 0, 7))
}

func TestSplitsValidate(t *testing.T) {
	var splitErr *InvalidSplitError

	err := Splits{Train: []int{0, 1}, Valid: []int{2}, Test: []int{1}}.Validate(3)
	require.ErrorAs(t, err, &splitErr)
	assert.Equal(t, TestSplit, splitErr.Split)
	assert.Equal(t, 1, splitErr.Index)
	assert.True(t, errors.Is(err, ErrInvalidSplit))

	err = Splits{Train: []int{0, 0}}.Validate(3)
	require.ErrorAs(t, err, &splitErr)
	assert.Contains(t, err.Error(), "duplicated")

	err = Splits{Train: []int{0}, Test: []int{3}}.Validate(3)
	require.ErrorAs(t, err, &splitErr)
	assert.Equal(t, 3, splitErr.Index)

	err = Splits{Train: []int{-1}}.Validate(3)
	assert.ErrorIs(t, err, ErrInvalidSplit)

	assert.NoError(t, Splits{Train: []int{2}, Valid: []int{}, Test: []int{0, 1}}.Validate(3))
}

func TestLoadSplits(t *testing.T) {
	s, err := LoadSplits(strings.NewReader(`{"train": [0, 1, 2], "test": [3]}`))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, s.Train)
	assert.Nil(t, s.Valid)

	s, err = LoadSplits(strings.NewReader(`{"train": [0], "valid": [], "test": [1]}`))
	require.NoError(t, err)
	assert.NotNil(t, s.Valid)
	assert.Empty(t, s.Valid)

	_, err = LoadSplits(strings.NewReader(`{"train": [0]}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadSplits(strings.NewReader(`{"train": [0`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBuildSplits(t *testing.T) {
	opts := SplitOptions{TrainRatio: 0.8, ValidRatio: 0.1, Seed: 42}

	s, err := BuildSplits(20, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, RandomSplit(20, 0.8, 0.1, 42), s)

	given := &Splits{Train: lo.Range(10), Test: lo.RangeFrom(10, 10)}
	s, err = BuildSplits(20, given, opts)
	require.NoError(t, err)
	assert.Len(t, s.Valid, 1)
	assert.Len(t, s.Train, 9)
	assert.Equal(t, given.Test, s.Test)
	checkDisjoint(t, s)

	given = &Splits{Train: []int{0, 1}, Valid: []int{2}, Test: []int{3}}
	s, err = BuildSplits(4, given, opts)
	require.NoError(t, err)
	assert.Equal(t, *given, s)

	_, err = BuildSplits(4, &Splits{Train: []int{0, 1}, Valid: []int{1}, Test: []int{3}}, opts)
	assert.ErrorIs(t, err, ErrInvalidSplit)

	_, err = BuildSplits(4, &Splits{Train: []int{0}, Test: []int{4}}, opts)
	assert.ErrorIs(t, err, ErrInvalidSplit)

	opts.ScaleRatio = 0.5
	s, err = BuildSplits(100, nil, opts)
	require.NoError(t, err)
	train, valid, test := s.Sizes()
	assert.Equal(t, []int{40, 5, 5}, []int{train, valid, test})
	checkDisjoint(t, s)
}

func TestGoldHeldOutHalf(t *testing.T) {
	labels := slices.Concat(slices.Repeat([]int{1}, 10), slices.Repeat([]int{0}, 10))

	dev, test := GoldHeldOut(labels, true, NewRand(42))
	require.Len(t, dev, 10)
	require.Len(t, test, 10)

	count := func(index []int, label int) int {
		return lo.CountBy(index, func(i int) bool { return labels[i] == label })
	}
	assert.Equal(t, 5, count(dev, 1))
	assert.Equal(t, 5, count(dev, 0))
	assert.Equal(t, 5, count(test, 1))
	assert.Equal(t, 5, count(test, 0))
	assert.Empty(t, lo.Intersect(dev, test))

	dev2, test2 := GoldHeldOut(labels, true, NewRand(42))
	assert.Equal(t, dev, dev2)
	assert.Equal(t, test, test2)
}

func TestGoldHeldOutOddCounts(t *testing.T) {
	labels := []int{1, 1, 1, 0, 0, 2, 0}
	dev, test := GoldHeldOut(labels, true, NewRand(1))
	// floor(4/2) positives and floor(3/2) negatives go to dev
	assert.Len(t, dev, 3)
	assert.Len(t, test, 4)
	assert.ElementsMatch(t, lo.Range(7), slices.Concat(dev, test))
}

func TestGoldHeldOutWithoutHalf(t *testing.T) {
	labels := []int{0, 1, 0, 1, 1}
	dev, test := GoldHeldOut(labels, false, NewRand(3))
	assert.ElementsMatch(t, lo.Range(5), dev)
	assert.Empty(t, test)
}

func syntheticLabels() []int {
	return slices.Concat(slices.Repeat([]int{1}, 1000), slices.Repeat([]int{0}, 1000))
}

func TestSyntheticTrain(t *testing.T) {
	train, err := SyntheticTrain(syntheticLabels(), 300, DefaultSyntheticLayout, NewRand(42))
	require.NoError(t, err)
	require.Len(t, train, 1300)

	positives := train[:300]
	assert.Len(t, lo.Uniq(positives), 300)
	for _, i := range positives {
		assert.True(t, i >= 0 && i < 1000)
	}
	assert.Equal(t, lo.RangeFrom(1000, 1000), train[300:])
}

func TestSyntheticTrainLayoutViolation(t *testing.T) {
	labels := syntheticLabels()
	labels[1500] = 1

	_, err := SyntheticTrain(labels, 300, DefaultSyntheticLayout, NewRand(42))
	var invErr *InvariantError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, 1500, invErr.Index)
	assert.ErrorIs(t, err, ErrInvariant)

	_, err = SyntheticTrain(labels[:1999], 300, DefaultSyntheticLayout, NewRand(42))
	assert.ErrorIs(t, err, ErrInvariant)

	_, err = SyntheticTrain(syntheticLabels(), 1001, DefaultSyntheticLayout, NewRand(42))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
