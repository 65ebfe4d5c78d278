package clip

import (
	"context"
	"fmt"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEncoder runs the vision and text towers as two ONNX Runtime sessions.
// The ONNX Runtime environment must be initialized before construction.
type ONNXEncoder struct {
	vision  *tower
	text    *tower
	dim     int
	flight  inflight
	destroy sync.Once
}

type tower struct {
	session *ort.DynamicAdvancedSession
	inputs  []string
	output  string
}

type ONNXOptions struct {
	VisionPath string
	TextPath   string
	Dim        int
	// ImageSize is checked against the vision tower's declared input
	// height and width when the model fixes them.
	ImageSize      int
	IntraOpThreads int
}

func NewONNXEncoder(opts ONNXOptions) (*ONNXEncoder, error) {
	if opts.Dim <= 0 {
		opts.Dim = DefaultEmbeddingDim
	}
	if opts.ImageSize <= 0 {
		opts.ImageSize = DefaultImageSize
	}
	checkPixels := func(in ort.InputOutputInfo) error {
		return checkImageInput(in, opts.ImageSize)
	}
	vision, err := newTower(opts.VisionPath, []string{"pixel_values"}, []string{"image_embeds"}, checkPixels, opts)
	if err != nil {
		return nil, err
	}
	text, err := newTower(opts.TextPath, []string{"input_ids", "attention_mask"}, []string{"text_embeds"}, nil, opts)
	if err != nil {
		vision.destroy()
		return nil, err
	}
	return &ONNXEncoder{vision: vision, text: text, dim: opts.Dim}, nil
}

func newTower(path string, knownInputs, preferredOutputs []string, checkInput func(ort.InputOutputInfo) error, opts ONNXOptions) (*tower, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("failed to get model input/output info: %w", err)}
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("model declares no inputs or outputs")}
	}

	inputNames := make([]string, 0, len(inputs))
	for _, in := range inputs {
		inputNames = append(inputNames, in.Name)
	}
	if len(knownInputs) > 1 {
		for _, name := range inputNames {
			if !slices.Contains(knownInputs, name) {
				return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("unsupported model input %q", name)}
			}
		}
	} else if len(inputNames) != 1 {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("expected one input, got %v", inputNames)}
	}
	if checkInput != nil {
		for _, in := range inputs {
			if err := checkInput(in); err != nil {
				return nil, err
			}
		}
	}

	out := pickOutput(outputs, preferredOutputs)
	if dims := out.Dimensions; len(dims) > 0 {
		if width := dims[len(dims)-1]; width > 0 && int(width) != opts.Dim {
			return nil, &ShapeMismatchError{What: "embedding dimension of " + out.Name, Want: opts.Dim, Got: int(width)}
		}
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("failed to create session options: %w", err)}
	}
	defer sessionOpts.Destroy()
	if opts.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, &ModelLoadError{Path: path, Err: err}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, inputNames, []string{out.Name}, sessionOpts)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("failed to create ONNX Runtime session: %w", err)}
	}
	return &tower{session: session, inputs: inputNames, output: out.Name}, nil
}

func pickOutput(outputs []ort.InputOutputInfo, preferred []string) ort.InputOutputInfo {
	for _, name := range preferred {
		for _, o := range outputs {
			if o.Name == name {
				return o
			}
		}
	}
	for _, o := range outputs {
		if len(o.Dimensions) == 2 {
			return o
		}
	}
	return outputs[0]
}

// checkImageInput rejects a [N,3,H,W] input whose fixed H or W differs
// from size. Dynamic (non-positive) dimensions are accepted.
func checkImageInput(in ort.InputOutputInfo, size int) error {
	dims := in.Dimensions
	if len(dims) != 4 {
		return nil
	}
	for _, d := range dims[2:] {
		if d > 0 && int(d) != size {
			return &ShapeMismatchError{What: "image size of " + in.Name, Want: size, Got: int(d)}
		}
	}
	return nil
}

func (t *tower) destroy() {
	if t != nil && t.session != nil {
		t.session.Destroy()
	}
}

func (e *ONNXEncoder) Dim() int { return e.dim }

func (e *ONNXEncoder) EncodeImages(ctx context.Context, batch *ImageBatch) (*Embeddings, error) {
	if batch == nil || batch.N == 0 {
		return nil, ErrEmptyBatch
	}
	return e.run(ctx, e.vision, batch.N, func(name string) (ort.Value, error) {
		return ort.NewTensor(ort.NewShape(batch.Shape()...), batch.Data)
	})
}

func (e *ONNXEncoder) EncodeText(ctx context.Context, batch *TokenBatch) (*Embeddings, error) {
	if batch == nil || batch.N() == 0 {
		return nil, ErrEmptyBatch
	}
	shape := ort.NewShape(int64(batch.N()), int64(batch.SeqLen()))
	return e.run(ctx, e.text, batch.N(), func(name string) (ort.Value, error) {
		if name == "attention_mask" {
			return ort.NewTensor(shape, batch.Mask())
		}
		return ort.NewTensor(shape, batch.Flat())
	})
}

func (e *ONNXEncoder) run(ctx context.Context, t *tower, n int, input func(name string) (ort.Value, error)) (*Embeddings, error) {
	out := &Embeddings{N: n, Dim: e.dim, Data: make([]float32, n*e.dim)}
	err := e.flight.run(ctx, func() error {
		inputs := make([]ort.Value, 0, len(t.inputs))
		defer func() {
			for _, v := range inputs {
				v.Destroy()
			}
		}()
		for _, name := range t.inputs {
			v, err := input(name)
			if err != nil {
				return fmt.Errorf("failed to create input tensor %s: %w", name, err)
			}
			inputs = append(inputs, v)
		}

		output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), int64(e.dim)))
		if err != nil {
			return fmt.Errorf("failed to create output tensor: %w", err)
		}
		defer output.Destroy()

		if err := t.session.Run(inputs, []ort.Value{output}); err != nil {
			return err
		}
		data := output.GetData()
		if len(data) != len(out.Data) {
			return &ShapeMismatchError{What: "encoder output size", Want: len(out.Data), Got: len(data)}
		}
		copy(out.Data, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Destroy waits for in-flight inference, including runs abandoned by a
// cancelled context, then releases both sessions.
func (e *ONNXEncoder) Destroy() {
	e.destroy.Do(func() {
		e.flight.close()
		e.vision.destroy()
		e.text.destroy()
	})
}
