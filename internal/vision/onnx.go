package vision

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/photoproc/internal/config"
)

const (
	inputSize  = 224
	numClasses = 1000
)

// ImageNet channel statistics on the 0..1 scale.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Classifier runs an ImageNet classification model through ONNX Runtime.
type Classifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	labels       []string
	minConf      float64
}

// NewClassifier initializes the runtime and loads the model and labels.
func NewClassifier(cfg config.ClassifierConfig) (*Classifier, error) {
	labels, err := loadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	libPath := cfg.SharedLibPath
	if libPath == "" {
		libPath = defaultLibPath()
	}
	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init onnx runtime: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, inputSize, inputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, numClasses))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create classifier session: %w", err)
	}

	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = MinConfidence
	}
	return &Classifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		labels:       labels,
		minConf:      minConf,
	}, nil
}

func (c *Classifier) Tags(ctx context.Context, in Input) ([]string, error) {
	if in.Image == nil {
		return nil, fmt.Errorf("classifier needs a decoded image")
	}
	data := preprocess(in.Image)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	copy(c.inputTensor.GetData(), data)
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("run classifier: %w", err)
	}
	probs := softmax(c.outputTensor.GetData())
	return SelectTopP(probs, c.labels, TopP, MaxTags, c.minConf), nil
}

func (c *Classifier) Close() {
	if c.session != nil {
		c.session.Destroy()
	}
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
}

// preprocess resizes to the model input and returns normalized CHW data.
func preprocess(img image.Image) []float32 {
	resized := imaging.Fill(img, inputSize, inputSize, imaging.Center, imaging.Linear)
	const plane = inputSize * inputSize
	data := make([]float32, 3*plane)

	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			i := resized.PixOffset(x, y)
			px := resized.Pix[i : i+3 : i+3]
			idx := y*inputSize + x
			for ch := 0; ch < 3; ch++ {
				v := float32(px[ch]) / 255
				data[ch*plane+idx] = (v - imagenetMean[ch]) / imagenetStd[ch]
			}
		}
	}
	return data
}

func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		maxV = max(maxV, v)
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// loadLabels reads one class name per line.
func loadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}

// defaultLibPath returns the ONNX Runtime shared library name for the OS.
func defaultLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
