// Package security はアプリケーションのセキュリティ機能を提供する。
//
// InputSanitizer は登録・ログインの入力文字列からマークアップを除去する。
// bluemondayのStrictPolicyを使用し、すべてのタグと属性を取り除く。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses は多重にエンコードされた入力に対する除去の最大回数。
const maxSanitizePasses = 4

// InputSanitizer はプレーンテキスト入力のサニタイズ機能を提供する。
// ポリシーは生成後に変更されないため、複数のゴルーチンから安全に使用できる。
type InputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerを生成する。
func NewInputSanitizer() *InputSanitizer {
	return &InputSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、前後の空白を取り除いた文字列を返す。
// StrictPolicyがエスケープした文字実体参照は元の文字に戻すが、
// 戻した結果にマークアップが現れる場合は変化がなくなるまで除去を繰り返す。
func (s *InputSanitizer) Sanitize(input string) string {
	if input == "" {
		return ""
	}
	out := input
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			break
		}
		out = next
	}
	if strings.ContainsAny(out, "<>") {
		// 除去しきれない入力はエスケープしたまま返す
		out = html.EscapeString(out)
	}
	return strings.TrimSpace(out)
}
