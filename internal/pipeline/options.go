package pipeline

import (
	"fmt"
	"runtime"
	"time"

	"github.com/Lllllllleong/scanmerge/internal/errs"
	"github.com/Lllllllleong/scanmerge/internal/finishing"
)

// Options selects and tunes the processing stages. It is passed by value and
// never modified by the pipeline.
type Options struct {
	OCR        bool          `yaml:"ocr" json:"ocr"`
	OCRLang    string        `yaml:"ocr_lang" json:"ocrLang"`
	OCRTimeout time.Duration `yaml:"ocr_timeout" json:"ocrTimeout"`

	Deskew          bool    `yaml:"deskew" json:"deskew"`
	AutoDeskew      bool    `yaml:"auto_deskew" json:"autoDeskew"`
	DeskewThreshold float64 `yaml:"deskew_threshold" json:"deskewThreshold"`
	DeskewAngle     float64 `yaml:"deskew_angle" json:"deskewAngle"`

	Enhance   bool `yaml:"enhance" json:"enhance"`
	Denoise   bool `yaml:"denoise" json:"denoise"`
	Despeckle bool `yaml:"despeckle" json:"despeckle"`
	Binarize  bool `yaml:"binarize" json:"binarize"`
	Sharpen   bool `yaml:"sharpen" json:"sharpen"`
	Autocrop  bool `yaml:"autocrop" json:"autocrop"`

	RemoveBlank    bool    `yaml:"remove_blank" json:"removeBlank"`
	BlankThreshold float64 `yaml:"blank_threshold" json:"blankThreshold"`

	Lossy         bool `yaml:"lossy" json:"lossy"`
	LossyDPI      int  `yaml:"lossy_dpi" json:"lossyDpi"`
	LossyQuality  int  `yaml:"lossy_quality" json:"lossyQuality"`
	Optimize      bool `yaml:"optimize" json:"optimize"`
	CompressLevel int  `yaml:"compress_level" json:"compressLevel"`

	Title    string `yaml:"title" json:"title"`
	Author   string `yaml:"author" json:"author"`
	Subject  string `yaml:"subject" json:"subject"`
	Keywords string `yaml:"keywords" json:"keywords"`

	Watermark         string  `yaml:"watermark" json:"watermark"`
	WatermarkImage    string  `yaml:"watermark_image" json:"watermarkImage"`
	WatermarkOpacity  float64 `yaml:"watermark_opacity" json:"watermarkOpacity"`
	WatermarkSize     float64 `yaml:"watermark_size" json:"watermarkSize"`
	WatermarkRotation float64 `yaml:"watermark_rotation" json:"watermarkRotation"`

	PageNumbers        bool    `yaml:"page_numbers" json:"pageNumbers"`
	PageNumberPosition string  `yaml:"page_number_position" json:"pageNumberPosition"`
	PageNumberSize     float64 `yaml:"page_number_size" json:"pageNumberSize"`
	PageNumberMargin   float64 `yaml:"page_number_margin" json:"pageNumberMargin"`

	Workers   int     `yaml:"workers" json:"workers"`
	RasterDPI float64 `yaml:"raster_dpi" json:"rasterDpi"`
	Verbose   bool    `yaml:"verbose" json:"verbose"`
}

// DefaultOptions returns every tunable at its default with all stages off.
func DefaultOptions() Options {
	return Options{
		OCRLang:            "spa",
		OCRTimeout:         2 * time.Minute,
		DeskewThreshold:    0.5,
		BlankThreshold:     0.99,
		LossyDPI:           150,
		LossyQuality:       70,
		CompressLevel:      5,
		WatermarkOpacity:   0.3,
		WatermarkSize:      60,
		WatermarkRotation:  45,
		PageNumberPosition: "bottom-center",
		PageNumberSize:     10,
		PageNumberMargin:   20,
		Workers:            runtime.NumCPU(),
		RasterDPI:          300,
		Verbose:            true,
	}
}

// withDefaults fills tunables for which zero is not a usable value. Zero
// thresholds and margins are honoured as given.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.OCRLang == "" {
		o.OCRLang = d.OCRLang
	}
	if o.OCRTimeout <= 0 {
		o.OCRTimeout = d.OCRTimeout
	}
	if o.LossyDPI == 0 {
		o.LossyDPI = d.LossyDPI
	}
	if o.LossyQuality == 0 {
		o.LossyQuality = d.LossyQuality
	}
	if o.WatermarkOpacity == 0 {
		o.WatermarkOpacity = d.WatermarkOpacity
	}
	if o.WatermarkSize == 0 {
		o.WatermarkSize = d.WatermarkSize
	}
	if o.PageNumberPosition == "" {
		o.PageNumberPosition = d.PageNumberPosition
	}
	if o.PageNumberSize == 0 {
		o.PageNumberSize = d.PageNumberSize
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.RasterDPI <= 0 {
		o.RasterDPI = d.RasterDPI
	}
	return o
}

// Validate rejects mutually exclusive and out-of-range options.
func (o Options) Validate() error {
	o = o.withDefaults()
	if o.Lossy && o.Optimize {
		return errs.ConfigConflict("lossy and optimize are mutually exclusive compression modes")
	}
	if o.BlankThreshold < 0 || o.BlankThreshold > 1 {
		return errs.ConfigConflict(fmt.Sprintf("blank threshold %.3f outside 0..1", o.BlankThreshold))
	}
	if o.DeskewThreshold < 0 {
		return errs.ConfigConflict("deskew threshold must not be negative")
	}
	if o.LossyDPI < 0 {
		return errs.ConfigConflict(fmt.Sprintf("invalid lossy dpi %d", o.LossyDPI))
	}
	if o.CompressLevel < 0 || o.CompressLevel > 9 {
		return errs.ConfigConflict(fmt.Sprintf("compress level %d outside 0..9", o.CompressLevel))
	}
	if o.WatermarkOpacity < 0 || o.WatermarkOpacity > 1 {
		return errs.ConfigConflict(fmt.Sprintf("watermark opacity %.2f outside 0..1", o.WatermarkOpacity))
	}
	if o.Watermark != "" && o.WatermarkImage != "" {
		return errs.ConfigConflict("text and image watermark are mutually exclusive")
	}
	if o.PageNumbers && !finishing.ValidPosition(o.PageNumberPosition) {
		return errs.ConfigConflict(fmt.Sprintf("invalid page number position %q", o.PageNumberPosition))
	}
	return nil
}

func (o Options) metadata() finishing.Metadata {
	return finishing.Metadata{Title: o.Title, Author: o.Author, Subject: o.Subject, Keywords: o.Keywords}
}

func (o Options) watermarkEnabled() bool {
	return o.Watermark != "" || o.WatermarkImage != ""
}

// onlyOCR reports whether OCR is the single requested transform.
func (o Options) onlyOCR() bool {
	if !o.OCR {
		return false
	}
	others := o.Deskew || o.AutoDeskew || o.Enhance || o.Denoise || o.Despeckle || o.Binarize ||
		o.Sharpen || o.Autocrop || o.RemoveBlank || o.Lossy || o.Optimize || o.PageNumbers ||
		o.watermarkEnabled() || !o.metadata().Empty()
	return !others
}
