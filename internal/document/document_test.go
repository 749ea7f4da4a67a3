package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence_FilterKeepsOrder(t *testing.T) {
	seq := &Sequence{}
	for i := 0; i < 6; i++ {
		seq.Pages = append(seq.Pages, &Page{OriginIndex: i})
	}

	removed := seq.Filter(func(p *Page) bool { return p.OriginIndex != 1 && p.OriginIndex != 4 })

	require.Equal(t, 2, removed)
	require.Equal(t, 4, seq.Len())
	got := make([]int, 0, seq.Len())
	for _, p := range seq.Pages {
		got = append(got, p.OriginIndex)
	}
	assert.Equal(t, []int{0, 2, 3, 5}, got)
}

func TestHandle_BoxFallsBackToLetter(t *testing.T) {
	h := &Handle{Boxes: []PageBox{{Width: 100, Height: 200, Rotation: 90}}}

	assert.Equal(t, PageBox{Width: 100, Height: 200, Rotation: 90}, h.Box(0))
	assert.Equal(t, PageBox{Width: 612, Height: 792}, h.Box(5))
}

func TestNormalizeRotation(t *testing.T) {
	assert.Equal(t, 270, normalizeRotation(-90))
	assert.Equal(t, 90, normalizeRotation(450))
	assert.Equal(t, 0, normalizeRotation(360))
}

func TestPage_DisplaySize(t *testing.T) {
	p := &Page{Width: 612, Height: 792}
	w, h := p.DisplaySize()
	assert.Equal(t, [2]float64{612, 792}, [2]float64{w, h})

	p.Rotation = -90
	w, h = p.DisplaySize()
	assert.Equal(t, [2]float64{792, 612}, [2]float64{w, h})

	p.Rotation = 180
	w, h = p.DisplaySize()
	assert.Equal(t, [2]float64{612, 792}, [2]float64{w, h})
}

func TestPage_Rendered(t *testing.T) {
	assert.False(t, (&Page{}).Rendered())
	assert.True(t, (&Page{Replaced: true}).Rendered())
	assert.True(t, (&Page{Encoded: []byte{0xff}}).Rendered())
	assert.True(t, (&Page{Text: []TextToken{{Text: "total"}}}).Rendered())
}
