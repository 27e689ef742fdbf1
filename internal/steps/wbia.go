package steps

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tomatool/wildcheck/internal/httpclient"
	"github.com/tomatool/wildcheck/internal/stepdef"
	"github.com/tomatool/wildcheck/internal/world"
)

const (
	uploadPath   = "/api/upload/image/"
	detectPath   = "/api/engine/detect/cnn/"
	classifyPath = "/api/engine/classify/species/"
	queryPath    = "/api/engine/query/graph/"
)

// TestImagePattern names a file under the test data directory
const TestImagePattern = `I have a test image "{filename}"`

// WBIA returns the image analysis engine steps
func (s *Steps) WBIA() stepdef.StepCategory {
	return stepdef.StepCategory{
		Name:        "WBIA",
		Description: "Upload, detection, classification and identification against the engine",
		Steps: []stepdef.StepDef{
			{
				Keyword:     stepdef.Given,
				Group:       "Setup",
				Pattern:     `WBIA service is running`,
				Description: "WBIA database info endpoint answers 200",
				Example:     `Given WBIA service is running`,
				Handler:     wbiaConnected,
			},
			{
				Keyword:     stepdef.Given,
				Group:       "Setup",
				Pattern:     `I have test images in the test data directory`,
				Description: "TEST_DATA_DIR exists",
				Example:     `Given I have test images in the test data directory`,
				Handler:     testDataDir,
			},
			{
				Keyword:     stepdef.Given,
				Group:       "Setup",
				Pattern:     TestImagePattern,
				Description: "Selects an image from TEST_DATA_DIR for upload",
				Example:     `Given I have a test image "zebra.jpg"`,
				Handler:     testImage,
			},

			// Upload
			{
				Keyword:     stepdef.When,
				Group:       "Upload",
				Pattern:     `I upload the image to WBIA`,
				Description: "POST the selected image as multipart field `image`",
				Example:     `When I upload the image to WBIA`,
				Handler:     uploadImage,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Upload",
				Pattern:     `the response should contain an image ID`,
				Description: "Asserts `gid` and keeps it for detection",
				Example:     `Then the response should contain an image ID`,
				Handler:     imageID,
			},
			{
				Keyword:     stepdef.Given,
				Group:       "Upload",
				Pattern:     `I have uploaded an image with ID "{image_id:d}"`,
				Description: "Uses an image already known to the engine",
				Example:     `Given I have uploaded an image with ID "1"`,
				Handler:     setImageID,
			},

			// Detection
			{
				Keyword:     stepdef.When,
				Group:       "Detection",
				Pattern:     `I request detection on the image`,
				Description: "POST {gid_list: [gid]} with the long timeout",
				Example:     `When I request detection on the image`,
				Handler:     requestDetection,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Detection",
				Pattern:     `the response should contain detected annotations`,
				Description: "Asserts a non-empty annotations list",
				Example:     `Then the response should contain detected annotations`,
				Handler:     detectedAnnotations,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Detection",
				Pattern:     `each annotation should have a bounding box`,
				Description: "Every annotation has a 4-element bbox",
				Example:     `Then each annotation should have a bounding box`,
				Handler:     annotationBoxes,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Detection",
				Pattern:     `each annotation should have a confidence score`,
				Description: "Every annotation has a confidence in [0.0, 1.0]",
				Example:     `Then each annotation should have a confidence score`,
				Handler:     annotationConfidence,
			},

			// Classification
			{
				Keyword:     stepdef.Given,
				Group:       "Classification",
				Pattern:     `I have an annotation with ID "{annot_id:d}"`,
				Description: "Uses an annotation already known to the engine",
				Example:     `Given I have an annotation with ID "1"`,
				Handler:     setAnnotationID,
			},
			{
				Keyword:     stepdef.When,
				Group:       "Classification",
				Pattern:     `I request species classification`,
				Description: "POST {aid_list: [aid]} with the long timeout",
				Example:     `When I request species classification`,
				Handler:     requestClassification,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Classification",
				Pattern:     `the response should contain a species name`,
				Description: "Asserts the species field",
				Example:     `Then the response should contain a species name`,
				Handler:     speciesName,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Classification",
				Pattern:     `the confidence score should be between {min_val:f} and {max_val:f}`,
				Description: "Asserts min <= confidence <= max; a missing confidence counts as 0",
				Example:     `Then the confidence score should be between 0.0 and 1.0`,
				Handler:     confidenceBetween,
			},

			// Identification
			{
				Keyword:     stepdef.When,
				Group:       "Identification",
				Pattern:     `I query for matching individuals`,
				Description: "POST {qaid_list: [aid], daid_list: null} with the long timeout",
				Example:     `When I query for matching individuals`,
				Handler:     queryMatches,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Identification",
				Pattern:     `the response should contain a ranked list of matches`,
				Description: "Asserts matches is a list, possibly empty",
				Example:     `Then the response should contain a ranked list of matches`,
				Handler:     rankedMatches,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Identification",
				Pattern:     `each match should have a similarity score`,
				Description: "Every match has a numeric score",
				Example:     `Then each match should have a similarity score`,
				Handler:     matchScores,
			},
		},
	}
}

func testDataDir(ctx context.Context, w *world.World, args stepdef.Args) error {
	dir := w.Config.TestDataDir
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("test data directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("test data directory %s is not a directory", dir)
	}
	return nil
}

func testImage(ctx context.Context, w *world.World, args stepdef.Args) error {
	name := args.String(0)
	path := filepath.Join(w.Config.TestDataDir, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("test image: %w", err)
	}
	w.Set(world.KeyTestImagePath, path)
	w.Set(world.KeyTestImageName, name)
	return nil
}

func uploadImage(ctx context.Context, w *world.World, args stepdef.Args) error {
	path, err := w.String(world.KeyTestImagePath)
	if err != nil {
		return err
	}
	name, err := w.String(world.KeyTestImageName)
	if err != nil {
		return err
	}

	res := w.Session.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     join(w.Config.Services.WBIA, uploadPath),
		Files:   []httpclient.File{{Field: "image", Filename: name, Path: path, ContentType: "image/jpeg"}},
		Timeout: w.Config.Timeouts.Default,
	})
	w.Apply(res)

	if obj, ok := res.JSON.(map[string]any); ok {
		if gid, ok := number(obj["gid"]); ok {
			w.Track("image", strconv.FormatFloat(gid, 'f', -1, 64))
		}
	}
	return nil
}

func imageID(ctx context.Context, w *world.World, args stepdef.Args) error {
	obj, err := w.ResponseObject()
	if err != nil {
		return err
	}
	gid, err := field(obj, "gid")
	if err != nil {
		return err
	}
	w.Set(world.KeyUploadedImageID, gid)
	return nil
}

func setImageID(ctx context.Context, w *world.World, args stepdef.Args) error {
	w.Set(world.KeyUploadedImageID, args.Int(0))
	return nil
}

func setAnnotationID(ctx context.Context, w *world.World, args stepdef.Args) error {
	w.Set(world.KeyAnnotationID, args.Int(0))
	return nil
}

func postEngine(ctx context.Context, w *world.World, path string, payload any) {
	w.Apply(w.Session.PostJSON(ctx, join(w.Config.Services.WBIA, path), payload, w.Config.Timeouts.Long))
}

func requestDetection(ctx context.Context, w *world.World, args stepdef.Args) error {
	gid, err := w.Int(world.KeyUploadedImageID)
	if err != nil {
		return err
	}
	postEngine(ctx, w, detectPath, map[string]any{"gid_list": []int{gid}})
	return nil
}

func requestClassification(ctx context.Context, w *world.World, args stepdef.Args) error {
	aid, err := w.Int(world.KeyAnnotationID)
	if err != nil {
		return err
	}
	postEngine(ctx, w, classifyPath, map[string]any{"aid_list": []int{aid}})
	return nil
}

func queryMatches(ctx context.Context, w *world.World, args stepdef.Args) error {
	aid, err := w.Int(world.KeyAnnotationID)
	if err != nil {
		return err
	}
	postEngine(ctx, w, queryPath, map[string]any{"qaid_list": []int{aid}, "daid_list": nil})
	return nil
}

func detectedAnnotations(ctx context.Context, w *world.World, args stepdef.Args) error {
	items, err := responseList(w, "annotations", world.KeyAnnotations)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no annotations detected")
	}
	return nil
}

func rankedMatches(ctx context.Context, w *world.World, args stepdef.Args) error {
	_, err := responseList(w, "matches", world.KeyMatches)
	return err
}

// responseList derives a list field of the response for later steps
func responseList(w *world.World, name, key string) ([]any, error) {
	obj, err := w.ResponseObject()
	if err != nil {
		return nil, err
	}
	v, err := field(obj, name)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s is %s, not a list", name, world.JSONKind(v))
	}
	w.Set(key, items)
	return items, nil
}

func annotationBoxes(ctx context.Context, w *world.World, args stepdef.Args) error {
	return eachObject(w, world.KeyAnnotations, "annotation", func(i int, obj map[string]any) error {
		return CheckBoundingBox(obj["bbox"])
	})
}

func annotationConfidence(ctx context.Context, w *world.World, args stepdef.Args) error {
	return eachObject(w, world.KeyAnnotations, "annotation", func(i int, obj map[string]any) error {
		v, ok := obj["confidence"]
		if !ok {
			return fmt.Errorf("missing confidence")
		}
		return CheckRange("confidence", v, 0.0, 1.0)
	})
}

func matchScores(ctx context.Context, w *world.World, args stepdef.Args) error {
	return eachObject(w, world.KeyMatches, "match", func(i int, obj map[string]any) error {
		v, ok := obj["score"]
		if !ok {
			return fmt.Errorf("missing score")
		}
		if _, ok := number(v); !ok {
			return fmt.Errorf("score is %s, not a number", world.JSONKind(v))
		}
		return nil
	})
}

func eachObject(w *world.World, key, kind string, check func(int, map[string]any) error) error {
	items, err := list(w, key)
	if err != nil {
		return err
	}
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("%s %d is %s, not an object", kind, i, world.JSONKind(item))
		}
		if err := check(i, obj); err != nil {
			return fmt.Errorf("%s %d: %w", kind, i, err)
		}
	}
	return nil
}

func speciesName(ctx context.Context, w *world.World, args stepdef.Args) error {
	obj, err := w.ResponseObject()
	if err != nil {
		return err
	}
	_, err = field(obj, "species")
	return err
}

func confidenceBetween(ctx context.Context, w *world.World, args stepdef.Args) error {
	obj, err := w.ResponseObject()
	if err != nil {
		return err
	}
	v, ok := obj["confidence"]
	if !ok {
		v = 0.0
	}
	return CheckRange("confidence", v, args.Float(0), args.Float(1))
}
