// Package training coordinates supervised training of an RGB-D classifier.
//
// The Coordinator owns a TrainingState and drives externally supplied
// collaborators: a Model, an Optimizer, a LossFunction, three DataSources, a
// MetricSink and a Persister. Run walks the state machine
//
//	Idle -> (Training -> Validating -> Checkpointing) x Epochs -> Testing -> Done
//
// strictly in sequence and stops on the first collaborator error.
//
// Scalars recorded per step (when step logging is on):
//
//	Train/Running_Loss(steps), Train/Running_Accu(steps)
//
// and per epoch:
//
//	Train/Loss(epochs), Train/Accu(epochs)
//	Validate/Accu(epochs), Validate/Best_accu(epochs)
//	Test/Accu(epochs), Test/Best_accu(epochs)
//
// A DebugPolicy caps batches per pass, suppresses low-accuracy checkpoints
// and zeroes the stored best accuracy. The zero policy is production.
package training
