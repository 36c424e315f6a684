package config

import "webagent/internal/types"

// DistributeAccounts assigns instruction index ranges to accounts. The total
// is split evenly; when it does not divide, the first total%n accounts get
// one extra instruction. Accounts beyond numToUse are ignored.
func DistributeAccounts(accounts []types.Account, total, numToUse int) []types.Account {
	if numToUse <= 0 || numToUse > len(accounts) {
		numToUse = len(accounts)
	}
	if numToUse == 0 || total <= 0 {
		return nil
	}

	base := total / numToUse
	extra := total % numToUse

	out := make([]types.Account, 0, numToUse)
	idx := 0
	for i := 0; i < numToUse; i++ {
		n := base
		if i < extra {
			n++
		}
		acct := accounts[i]
		acct.StartIdx = idx
		acct.EndIdx = idx + n
		idx += n
		out = append(out, acct)
	}
	return out
}

// InstructionTotal computes how many instructions the pipeline will process.
func (p PipelineConfig) InstructionTotal() int {
	return p.TotalPersonas * p.InstructionsPerPersona
}
