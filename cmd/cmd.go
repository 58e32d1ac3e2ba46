package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/cellseg/base"
	"github.com/sugarme/cellseg/envconfig"
	"github.com/sugarme/cellseg/imgutil"
	"github.com/sugarme/cellseg/model"
)

func device() gotch.Device {
	if envconfig.Cuda() {
		return gotch.NewCuda().CudaIfAvailable()
	}
	return gotch.CPU
}

// buildModel creates the named model and loads weights into it when a path is given.
func buildModel(vs *nn.VarStore, name, weights string) (model.Net, error) {
	if _, ok := model.Lookup(name); !ok {
		slog.Warn("unknown model, using default", "model", name, "default", model.DefaultName)
	}

	net := model.Build(vs.Root(), name)
	slog.Debug("model built", "model", net.Name(), "parameters", base.CountParameters(vs))

	if weights != "" {
		missing, err := vs.LoadPartial(weights)
		if err != nil {
			return nil, fmt.Errorf("load weights %q: %w", weights, err)
		}
		slog.Info("weights loaded", "path", weights, "missing", len(missing))
	}

	return net, nil
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func outputNames(outputs []base.Output) string {
	names := make([]string, len(outputs))
	for i, o := range outputs {
		names[i] = o.String()
	}
	return strings.Join(names, ",")
}

// ModelsHandler lists the registered models.
func ModelsHandler(cmd *cobra.Command, args []string) error {
	var data [][]string
	for _, name := range model.Names() {
		e, _ := model.Lookup(name)
		data = append(data, []string{e.Name, outputNames(e.Outputs), fmt.Sprint(e.Factor), e.Description})
	}

	table := newTable([]string{"NAME", "OUTPUTS", "FACTOR", "DESCRIPTION"})
	table.AppendBulk(data)
	table.Render()

	if env, _ := cmd.Flags().GetBool("env"); env {
		vals := envconfig.AsMap()
		keys := make([]string, 0, len(vals))
		for k := range vals {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println()
		table := newTable([]string{"VARIABLE", "VALUE", "DESCRIPTION"})
		for _, k := range keys {
			v := vals[k]
			table.Append([]string{v.Name, fmt.Sprint(v.Value), v.Description})
		}
		table.Render()
	}

	return nil
}

// ParamCount is one row of the parameter report.
type ParamCount struct {
	Model      string
	Outputs    string
	Parameters int
}

// CountModels builds each named model on its own CPU VarStore and counts its
// trainable parameters.
func CountModels(names []string) []ParamCount {
	var rows []ParamCount
	for _, name := range names {
		vs := nn.NewVarStore(gotch.CPU)
		net := model.Build(vs.Root(), name)
		rows = append(rows, ParamCount{
			Model:      net.Name(),
			Outputs:    outputNames(net.Outputs()),
			Parameters: int(base.CountParameters(vs)),
		})
	}
	return rows
}

// ParamsHandler prints the number of trainable parameters of each model.
func ParamsHandler(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		names = model.Names()
	}

	rows := CountModels(names)

	table := newTable([]string{"MODEL", "OUTPUTS", "PARAMETERS"})
	for _, r := range rows {
		table.Append([]string{r.Model, r.Outputs, fmt.Sprint(r.Parameters)})
	}
	table.Render()

	csvPath, _ := cmd.Flags().GetString("csv")
	if csvPath == "" {
		return nil
	}

	f, err := os.Create(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	df := dataframe.LoadStructs(rows)
	if df.Err != nil {
		return df.Err
	}
	if err := df.WriteCSV(f); err != nil {
		return fmt.Errorf("write %q: %w", csvPath, err)
	}
	slog.Info("parameter report written", "path", csvPath)

	return nil
}

// CheckHandler runs a model on a random batch and prints the output shapes and ranges.
func CheckHandler(cmd *cobra.Command, args []string) error {
	name := envconfig.Model()
	if len(args) > 0 {
		name = args[0]
	}
	size, _ := cmd.Flags().GetInt64("size")
	batch, _ := cmd.Flags().GetInt64("batch")
	weights, _ := cmd.Flags().GetString("weights")

	dev := device()
	vs := nn.NewVarStore(dev)

	net, err := buildModel(vs, name, weights)
	if err != nil {
		return err
	}
	if size%net.Factor() != 0 {
		return fmt.Errorf("size %d is not divisible by %d for model %q", size, net.Factor(), net.Name())
	}

	x := ts.MustRand([]int64{batch, 3, size, size}, gotch.Float, dev)
	defer x.MustDrop()

	var data [][]string
	ts.NoGrad(func() {
		outs := net.ForwardAll(x, false)
		for i, o := range outs {
			lo := o.MustMin(false)
			hi := o.MustMax(false)
			data = append(data, []string{
				net.Outputs()[i].String(),
				fmt.Sprint(o.MustSize()),
				fmt.Sprintf("%.4f", lo.Float64Values()[0]),
				fmt.Sprintf("%.4f", hi.Float64Values()[0]),
			})
			lo.MustDrop()
			hi.MustDrop()
			o.MustDrop()
		}
	})

	fmt.Printf("%s: input %v\n", net.Name(), x.MustSize())
	table := newTable([]string{"OUTPUT", "SHAPE", "MIN", "MAX"})
	table.AppendBulk(data)
	table.Render()

	return nil
}

// PredictHandler writes one probability map per model output for every input image.
func PredictHandler(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("model")
	weights, _ := cmd.Flags().GetString("weights")
	outDir, _ := cmd.Flags().GetString("out")
	format, _ := cmd.Flags().GetString("format")
	normalize, _ := cmd.Flags().GetBool("normalize")
	hist, _ := cmd.Flags().GetBool("hist")

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	dev := device()
	vs := nn.NewVarStore(dev)

	net, err := buildModel(vs, name, weights)
	if err != nil {
		return err
	}

	for _, path := range args {
		if err := predict(net, dev, path, outDir, format, normalize, hist); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	return nil
}

func predict(net model.Net, dev gotch.Device, path, outDir, format string, normalize, hist bool) error {
	img, err := imgutil.ReadImage(path)
	if err != nil {
		return err
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	x := imgutil.ToTensor(imgutil.FitToFactor(img, net.Factor()), normalize).MustTo(dev, true)
	defer x.MustDrop()

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var outs []*ts.Tensor
	ts.NoGrad(func() {
		outs = net.ForwardAll(x, false)
	})
	defer func() {
		for _, o := range outs {
			o.MustDrop()
		}
	}()

	for i, o := range outs {
		kind := net.Outputs()[i].String()
		probs := o.MustTo(gotch.CPU, false)
		m, err := imgutil.ProbabilityMap(probs, w, h)
		if err != nil {
			probs.MustDrop()
			return err
		}

		out := filepath.Join(outDir, fmt.Sprintf("%s_%s.%s", stem, kind, format))
		if err := imgutil.SaveImage(m, out); err != nil {
			probs.MustDrop()
			return err
		}
		slog.Info("output written", "input", path, "output", kind, "path", out)

		if hist {
			histPath := filepath.Join(outDir, fmt.Sprintf("%s_%s_hist.png", stem, kind))
			if err := imgutil.SaveHistogram(probs.Float64Values(), stem+" "+kind, histPath, 20); err != nil {
				probs.MustDrop()
				return err
			}
		}
		probs.MustDrop()
	}

	return nil
}

// NewCLI creates the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "cellseg",
		Short:         "Nucleus and cell segmentation networks",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: envconfig.LogLevel()})))
			slog.Debug("cellseg config", "env", envconfig.Values())
		},
	}

	modelsCmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"ls"},
		Short:   "List available models",
		Args:    cobra.NoArgs,
		RunE:    ModelsHandler,
	}
	modelsCmd.Flags().Bool("env", false, "Also list configuration environment variables")

	paramsCmd := &cobra.Command{
		Use:   "params [MODEL...]",
		Short: "Count trainable parameters",
		RunE:  ParamsHandler,
	}
	paramsCmd.Flags().String("csv", "", "Write the report to a CSV file")

	checkCmd := &cobra.Command{
		Use:   "check [MODEL]",
		Short: "Run a model on a random batch and report output shapes",
		Args:  cobra.MaximumNArgs(1),
		RunE:  CheckHandler,
	}
	checkCmd.Flags().Int64("size", 128, "Input height and width")
	checkCmd.Flags().Int64("batch", 1, "Batch size")
	checkCmd.Flags().String("weights", envconfig.Weights(), "Checkpoint (.ot) to load")

	predictCmd := &cobra.Command{
		Use:   "predict IMAGE...",
		Short: "Write probability maps for images",
		Args:  cobra.MinimumNArgs(1),
		RunE:  PredictHandler,
	}
	predictCmd.Flags().String("model", envconfig.Model(), "Model name")
	predictCmd.Flags().String("weights", envconfig.Weights(), "Checkpoint (.ot) to load")
	predictCmd.Flags().String("out", ".", "Output directory")
	predictCmd.Flags().String("format", "png", "Output image format (png, tif)")
	predictCmd.Flags().Bool("normalize", false, "Standardise input with ImageNet mean and deviation")
	predictCmd.Flags().Bool("hist", false, "Also plot a histogram of each output")

	rootCmd.AddCommand(modelsCmd, paramsCmd, checkCmd, predictCmd)

	return rootCmd
}
