package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

type calculatorParams struct {
	Expression string `json:"expression"`
}

func (ts *toolset) calculatorTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "calculator",
		Desc: "Evaluate an arithmetic expression with + - * / ^ %, parentheses and decimal numbers.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"expression": {
				Desc:     "Arithmetic expression, e.g. (2 + 3.5) * 4",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ts.runCalculator)
}

func (ts *toolset) runCalculator(_ context.Context, params *calculatorParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Expression) == "" {
		return "", errors.New("expression is required")
	}
	result, err := evalExpression(params.Expression)
	if err != nil {
		return "", err
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return "", errors.New("expression has no finite result")
	}
	return strconv.FormatFloat(result, 'g', -1, 64), nil
}

// Shunting-yard evaluation over two stacks. Supported: binary + - * / % ^,
// unary minus, parentheses.
func evalExpression(input string) (float64, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, errors.New("empty expression")
	}

	var (
		values []float64
		ops    []rune
	)

	apply := func() error {
		if len(ops) == 0 {
			return errors.New("malformed expression")
		}
		op := ops[len(ops)-1]
		ops = ops[:len(ops)-1]
		if len(values) < 2 {
			return errors.New("malformed expression")
		}
		b := values[len(values)-1]
		a := values[len(values)-2]
		values = values[:len(values)-2]

		var out float64
		switch op {
		case '+':
			out = a + b
		case '-':
			out = a - b
		case '*':
			out = a * b
		case '/':
			if b == 0 {
				return errors.New("division by zero")
			}
			out = a / b
		case '%':
			if b == 0 {
				return errors.New("division by zero")
			}
			out = math.Mod(a, b)
		case '^':
			out = math.Pow(a, b)
		default:
			return fmt.Errorf("unknown operator %q", op)
		}
		values = append(values, out)
		return nil
	}

	for _, tok := range tokens {
		switch tok.kind {
		case tokenNumber:
			values = append(values, tok.value)
		case tokenLParen:
			ops = append(ops, '(')
		case tokenRParen:
			for len(ops) > 0 && ops[len(ops)-1] != '(' {
				if err := apply(); err != nil {
					return 0, err
				}
			}
			if len(ops) == 0 {
				return 0, errors.New("unbalanced parentheses")
			}
			ops = ops[:len(ops)-1]
		case tokenOperator:
			for len(ops) > 0 && ops[len(ops)-1] != '(' &&
				(precedence(ops[len(ops)-1]) > precedence(tok.op) ||
					(precedence(ops[len(ops)-1]) == precedence(tok.op) && tok.op != '^')) {
				if err := apply(); err != nil {
					return 0, err
				}
			}
			ops = append(ops, tok.op)
		}
	}

	for len(ops) > 0 {
		if ops[len(ops)-1] == '(' {
			return 0, errors.New("unbalanced parentheses")
		}
		if err := apply(); err != nil {
			return 0, err
		}
	}
	if len(values) != 1 {
		return 0, errors.New("malformed expression")
	}
	return values[0], nil
}

type tokenKind int

const (
	tokenNumber tokenKind = iota
	tokenOperator
	tokenLParen
	tokenRParen
)

type exprToken struct {
	kind  tokenKind
	value float64
	op    rune
}

func precedence(op rune) int {
	switch op {
	case '+', '-':
		return 1
	case '*', '/', '%':
		return 2
	case '^':
		return 3
	}
	return 0
}

func tokenize(input string) ([]exprToken, error) {
	var tokens []exprToken
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, exprToken{kind: tokenLParen})
			i++
		case c == ')':
			tokens = append(tokens, exprToken{kind: tokenRParen})
			i++
		case strings.ContainsRune("+-*/%^", c):
			// Unary minus binds to the number that follows.
			if c == '-' && expectsOperand(tokens) {
				j := i + 1
				if j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
					num, width, err := scanNumber(runes[j:])
					if err != nil {
						return nil, err
					}
					tokens = append(tokens, exprToken{kind: tokenNumber, value: -num})
					i = j + width
					continue
				}
				return nil, errors.New("dangling unary minus")
			}
			tokens = append(tokens, exprToken{kind: tokenOperator, op: c})
			i++
		case unicode.IsDigit(c) || c == '.':
			num, width, err := scanNumber(runes[i:])
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, exprToken{kind: tokenNumber, value: num})
			i += width
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return tokens, nil
}

func expectsOperand(tokens []exprToken) bool {
	if len(tokens) == 0 {
		return true
	}
	last := tokens[len(tokens)-1]
	return last.kind == tokenOperator || last.kind == tokenLParen
}

func scanNumber(runes []rune) (float64, int, error) {
	width := 0
	for width < len(runes) && (unicode.IsDigit(runes[width]) || runes[width] == '.') {
		width++
	}
	num, err := strconv.ParseFloat(string(runes[:width]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", string(runes[:width]))
	}
	return num, width, nil
}
