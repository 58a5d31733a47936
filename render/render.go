// Package render turns a compiled program into a standalone JavaScript
// artifact: the constant pool, the instruction bytes and an interpreter
// that executes them with the same dispatch contract as bytecode.VM.
package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"

	"github.com/chazu/shroud/pkg/bytecode"
)

// The interpreter mirrors bytecode.VM: LOAD_GLOBAL resolves against the
// global object, EXEC_XOR evaluates the decrypted payload with indirect
// eval so it runs in global scope.
var artifactTemplate = template.Must(template.New("artifact").Parse(`(function () {
  var c = {{.Constants}};
  var b = {{.Code}};
  var g = (0, eval)("this");
  function V(x, y) { this.s = []; this.c = y; this.b = x; this.p = 0; }
  V.prototype.r = function () { return this.b[this.p++]; };
  V.prototype.i = function () {
    if (this.p + 4 > this.b.length) { throw new Error("decode: truncated operand at " + this.p); }
    var q = this.b, p = this.p;
    this.p += 4;
    return ((q[p] << 24) >>> 0) + (q[p + 1] << 16) + (q[p + 2] << 8) + q[p + 3];
  };
  V.prototype.k = function (n) {
    if (n >= this.c.length) { throw new Error("decode: constant " + n + " out of range"); }
    return this.c[n];
  };
  V.prototype.e = function () {
    while (this.p < this.b.length) {
      var o = this.r();
      if (o === {{.LoadConst}}) {
        this.s.push(this.k(this.i()));
      } else if (o === {{.LoadGlobal}}) {
        var n = this.k(this.i());
        this.s.push(n in g ? g[n] : null);
      } else if (o === {{.CallFunc}}) {
        var a = this.i(), x = [];
        if (a + 1 > this.s.length) { throw new Error("stack underflow"); }
        for (var j = 0; j < a; j++) { x.push(this.s.pop()); }
        var f = this.s.pop();
        if (typeof f !== "function") { throw new TypeError("call target is not invocable"); }
        this.s.push(f.apply(null, x.reverse()));
      } else if (o === {{.ExecXor}}) {
        var e = this.k(this.i()), t = this.i() & 255, d = "";
        for (var m = 0; m < e.length; m++) {
          var h = (e[m] ^ t).toString(16);
          d += "%" + (h.length < 2 ? "0" + h : h);
        }
        (0, eval)(decodeURIComponent(d));
      } else if (o === {{.Halt}}) {
        break;
      } else {
        throw new Error("decode: unknown opcode " + o);
      }
    }
    return this.s.length ? this.s[this.s.length - 1] : null;
  };
  return new V(b, c).e();
})();
`))

type artifactData struct {
	Constants string
	Code      string

	LoadConst  int
	LoadGlobal int
	CallFunc   int
	ExecXor    int
	Halt       int
}

// Render returns the JavaScript artifact for p. Running the artifact
// alone reproduces what bytecode.VM does with p and a JS evaluator.
func Render(p *bytecode.Program) (string, error) {
	constants, err := renderConstants(p.Constants)
	if err != nil {
		return "", err
	}

	data := artifactData{
		Constants:  constants,
		Code:       byteArray(p.Code),
		LoadConst:  int(bytecode.OpLoadConst),
		LoadGlobal: int(bytecode.OpLoadGlobal),
		CallFunc:   int(bytecode.OpCallFunc),
		ExecXor:    int(bytecode.OpExecXor),
		Halt:       int(bytecode.OpHalt),
	}

	var sb strings.Builder
	if err := artifactTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return sb.String(), nil
}

func renderConstants(constants []bytecode.Value) (string, error) {
	parts := make([]string, len(constants))
	for i, c := range constants {
		lit, err := literal(c)
		if err != nil {
			return "", fmt.Errorf("render: constant %d: %w", i, err)
		}
		parts[i] = lit
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}

// literal renders one constant as a JS expression. Byte buffers become
// numeric arrays.
func literal(c bytecode.Value) (string, error) {
	switch v := c.(type) {
	case nil:
		return "null", nil
	case []byte:
		return byteArray(v), nil
	case string:
		// JSON strings are valid JS; encoding/json escapes U+2028 and U+2029.
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("cannot render %v", v)
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("cannot render constant of type %T", c)
	}
}

func byteArray(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b)*4 + 2)
	sb.WriteByte('[')
	for i, x := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(x)))
	}
	sb.WriteByte(']')
	return sb.String()
}
