package emit

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const modulePath = "github.com/robert-at-pretension-io/amsgen"

// sourceImporter type-checks packages of this module from their sources
// and leaves the standard library to the source importer
type sourceImporter struct {
	fset *token.FileSet
	std  types.Importer
	pkgs map[string]*types.Package
}

func newSourceImporter(fset *token.FileSet) *sourceImporter {
	return &sourceImporter{fset: fset, std: importer.ForCompiler(fset, "source", nil), pkgs: map[string]*types.Package{}}
}

func (im *sourceImporter) Import(path string) (*types.Package, error) {
	if p, ok := im.pkgs[path]; ok {
		return p, nil
	}
	rel, ok := strings.CutPrefix(path, modulePath+"/")
	if !ok {
		return im.std.Import(path)
	}
	dir := filepath.Join("..", "..", filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []*ast.File
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(im.fset, filepath.Join(dir, name), nil, 0)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	conf := types.Config{Importer: im}
	p, err := conf.Check(path, im.fset, files, nil)
	if err != nil {
		return nil, err
	}
	im.pkgs[path] = p
	return p, nil
}

func TestFileTypeChecks(t *testing.T) {
	src, err := File(compile(t), Options{Package: "models", Source: "models.va"})
	if err != nil {
		t.Fatal(err)
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "models.go", src, 0)
	if err != nil {
		t.Fatal(err)
	}
	var errs []string
	conf := types.Config{
		Importer: newSourceImporter(fset),
		Error:    func(err error) { errs = append(errs, err.Error()) },
	}
	pkg, _ := conf.Check("models", fset, []*ast.File{f}, nil)
	if len(errs) > 0 {
		t.Fatalf("generated code does not type-check:\n%s", strings.Join(errs, "\n"))
	}
	for _, name := range []string{"Amp", "Lp", "Diode", "NewAmp", "LpBranches"} {
		if pkg.Scope().Lookup(name) == nil {
			t.Errorf("%s is not declared", name)
		}
	}
	ctor, ok := pkg.Scope().Lookup("NewLp").(*types.Func)
	if !ok {
		t.Fatal("NewLp is not a function")
	}
	sig := ctor.Type().(*types.Signature)
	if got := sig.Params().At(0).Type().String(); got != modulePath+"/pkg/amsrt.Host" {
		t.Errorf("NewLp takes %s", got)
	}
}
